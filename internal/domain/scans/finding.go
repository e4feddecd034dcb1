package scans

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/HwangHoYoon/trust/internal/domain/analyst"
)

// Severity is always stored lowercase.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultMaxExtracted caps extracted-results kept per finding.
const DefaultMaxExtracted = 10

// DefaultHighRiskInfo lists template id fragments that make an info finding count against the score.
var DefaultHighRiskInfo = []string{
	"ssl-expired",
	"tls-deprecated",
	"missing-security-headers",
	"eol-software",
}

var (
	ErrRemediationAttached = errors.New("finding already has a remediation")
	errNoFinding           = errors.New("payload has no info object")
)

// strippedFields are dropped from the retained payload.
var strippedFields = []string{"request", "response"}

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

type Finding struct {
	ID               int64                `json:"id"`
	JobID            JobID                `json:"scan_id"`
	TemplateID       string               `json:"template_id"`
	Name             string               `json:"name"`
	Severity         Severity             `json:"severity"`
	MatchedAt        string               `json:"matched_at"`
	Description      string               `json:"description"`
	ExtractedResults []string             `json:"extracted_results"`
	ExtractedCount   int                  `json:"extracted_count"`
	Tags             []string             `json:"tags"`
	Raw              json.RawMessage      `json:"full_result,omitempty"`
	HighRiskInfo     bool                 `json:"high_risk_info"`
	Remediation      *analyst.Remediation `json:"remediation,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// BuildOptions controls payload trimming and the high-risk-info flag.
type BuildOptions struct {
	MaxExtracted int
	HighRiskInfo []string
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.MaxExtracted <= 0 {
		o.MaxExtracted = DefaultMaxExtracted
	}
	if o.HighRiskInfo == nil {
		o.HighRiskInfo = DefaultHighRiskInfo
	}
	return o
}

// NormalizeSeverity lowercases the input; blank becomes info.
func NormalizeSeverity(s string) Severity {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SeverityInfo
	}
	return Severity(s)
}

// IsHighRiskInfo reports whether an info finding's template id contains one
// of the patterns, case-insensitively.
func IsHighRiskInfo(sev Severity, templateID string, patterns []string) bool {
	if NormalizeSeverity(string(sev)) != SeverityInfo {
		return false
	}
	id := strings.ToLower(templateID)
	if id == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// BuildFinding maps a FINDING payload into a Finding. Missing nested fields
// become empty values; only a payload that is not an object with an info
// key is rejected.
func BuildFinding(job JobID, payload []byte, opts BuildOptions) (*Finding, error) {
	opts = opts.withDefaults()

	root := jsoniter.Get(payload)
	if root.ValueType() != jsoniter.ObjectValue {
		return nil, fmt.Errorf("build finding: %w", errNotObject)
	}
	if !has(root, "info") {
		return nil, fmt.Errorf("build finding: %w", errNoFinding)
	}

	extracted := stringsAt(root, "extracted-results")
	count := len(extracted)
	if count > opts.MaxExtracted {
		extracted = extracted[:opts.MaxExtracted]
	}

	raw, err := trimPayload(payload, opts.MaxExtracted)
	if err != nil {
		return nil, fmt.Errorf("build finding: %w", err)
	}

	f := &Finding{
		JobID:            job,
		TemplateID:       stringAt(root, "template-id"),
		Name:             stringAt(root, "info", "name"),
		Severity:         NormalizeSeverity(stringAt(root, "info", "severity")),
		MatchedAt:        stringAt(root, "matched-at"),
		Description:      stringAt(root, "info", "description"),
		ExtractedResults: extracted,
		ExtractedCount:   count,
		Tags:             stringsAt(root, "info", "tags"),
		Raw:              raw,
	}
	f.HighRiskInfo = IsHighRiskInfo(f.Severity, f.TemplateID, opts.HighRiskInfo)
	return f, nil
}

// trimPayload drops request/response bodies and truncates extracted-results,
// keeping the full length under extracted-results-count.
func trimPayload(payload []byte, max int) (json.RawMessage, error) {
	var m map[string]any
	if err := jsonStd.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	for _, k := range strippedFields {
		delete(m, k)
	}
	if list, ok := m["extracted-results"].([]any); ok && len(list) > max {
		m["extracted-results"] = list[:max]
		m["extracted-results-count"] = len(list)
	}
	return jsonStd.Marshal(m)
}

// AttachRemediation sets the remediation record once.
func (f *Finding) AttachRemediation(r *analyst.Remediation) error {
	if r == nil {
		return nil
	}
	if f.Remediation != nil {
		return ErrRemediationAttached
	}
	f.Remediation = r
	return nil
}

// Subject is the slice of the finding the remediation interpreter needs.
func (f *Finding) Subject() analyst.Subject {
	return analyst.Subject{FindingID: f.ID, Name: f.Name}
}
