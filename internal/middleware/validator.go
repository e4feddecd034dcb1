package middleware

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

// ValidateTarget normalizes a scan target and, unless allowPrivate is set,
// rejects loopback, link-local and private hosts. Errors wrap
// domain.ErrInvalidTarget.
func ValidateTarget(raw string, allowPrivate bool) (string, error) {
	target, err := domain.NormalizeTarget(SanitizeString(raw))
	if err != nil {
		return "", err
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidTarget, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", domain.ErrInvalidTarget)
	}
	if allowPrivate {
		return target, nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", fmt.Errorf("%w: localhost/internal hosts are not allowed", domain.ErrInvalidTarget)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return "", fmt.Errorf("%w: private IP ranges are not allowed", domain.ErrInvalidTarget)
		}
	}
	return target, nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateJobID accepts canonical UUIDs only.
func ValidateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("scan ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid scan ID format")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
