package scans

import (
	"fmt"
	"strings"
)

// NormalizeTarget trims the target and prefixes https:// when no http(s)
// scheme is present. Blank input is a usage error.
func NormalizeTarget(raw string) (string, error) {
	t := strings.TrimSpace(raw)
	if t == "" {
		return "", fmt.Errorf("%w: target is empty", ErrInvalidTarget)
	}
	lower := strings.ToLower(t)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		t = "https://" + t
	}
	return t, nil
}
