package analyst

import (
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	ConfidenceParsed   = 1.0
	ConfidenceFallback = 0.0
)

var (
	fencePattern = regexp.MustCompile("(?i)```(?:json)?")

	// Repairs for one corruption seen in model replies: keys and values
	// wrapped in doubled quotes. Nothing more general is attempted.
	doubledQuoted      = regexp.MustCompile(`""([^"]+)""`)
	doubledQuotedValue = regexp.MustCompile(`:\s*""([^"]*)""`)
)

var fallbackSteps = []string{
	"Locate the affected endpoint or component reported by the scanner.",
	"Apply the vendor or framework recommended fix for this issue.",
	"Rescan the target to confirm the finding is resolved.",
}

const (
	placeholderImpact = "Impact could not be determined automatically. Review the finding manually."
	placeholderBefore = "// vulnerable code sample unavailable"
	placeholderAfter  = "// fixed code sample unavailable"
)

// Interpret recovers a Remediation from a free-text model reply. It never
// fails; anything it cannot parse produces Fallback.
func Interpret(subject Subject, raw, model string, now time.Time) *Remediation {
	body, ok := extractObject(raw)
	if !ok {
		return Fallback(subject, raw, model, now)
	}
	root := jsoniter.Get([]byte(body))
	if root.ValueType() != jsoniter.ObjectValue {
		return Fallback(subject, raw, model, now)
	}

	r := &Remediation{
		FindingID:     subject.FindingID,
		Description:   text(root, "description"),
		Impact:        text(root, "impact"),
		Category:      ParseCategory(strings.ToLower(text(root, "category"))),
		BeforeCode:    text(root, "before_code"),
		AfterCode:     text(root, "after_code"),
		FixSteps:      list(root, "fix_steps"),
		FixComplexity: ParseComplexity(strings.ToLower(text(root, "fix_complexity"))),
		References:    list(root, "references"),
		Model:         model,
		Confidence:    ConfidenceParsed,
		AnalyzedAt:    now,
		RawResponse:   raw,
	}
	// An object carrying neither a description nor fix steps is not an analysis.
	if r.Description == "" && len(r.FixSteps) == 0 {
		return Fallback(subject, raw, model, now)
	}
	fillPlaceholders(r, subject)
	return r
}

// Fallback builds the zero-confidence record used whenever the model reply
// is missing or unusable. detail is kept as RawResponse.
func Fallback(subject Subject, detail, model string, now time.Time) *Remediation {
	r := &Remediation{
		FindingID:     subject.FindingID,
		Category:      CategoryExposure,
		FixComplexity: ComplexityModerate,
		FixSteps:      append([]string(nil), fallbackSteps...),
		References:    []string{},
		Model:         model,
		Confidence:    ConfidenceFallback,
		AnalyzedAt:    now,
		RawResponse:   detail,
	}
	fillPlaceholders(r, subject)
	return r
}

// extractObject strips code fences and returns the text between the first
// '{' and the last '}'. The doubled-quote repair only runs when that text
// is not already valid JSON.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if s == "" {
		return "", false
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	s = s[start : end+1]
	if jsoniter.Valid([]byte(s)) {
		return s, true
	}
	s = doubledQuoted.ReplaceAllString(s, `"$1"`)
	s = doubledQuotedValue.ReplaceAllString(s, `: "$1"`)
	if !jsoniter.Valid([]byte(s)) {
		return "", false
	}
	return s, true
}

func fillPlaceholders(r *Remediation, subject Subject) {
	if r.Description == "" {
		r.Description = "This finding (" + subject.displayName() + ") is a security issue that requires review."
	}
	if r.Impact == "" {
		r.Impact = placeholderImpact
	}
	if r.BeforeCode == "" {
		r.BeforeCode = placeholderBefore
	}
	if r.AfterCode == "" {
		r.AfterCode = placeholderAfter
	}
	if r.FixSteps == nil {
		r.FixSteps = []string{}
	}
	if r.References == nil {
		r.References = []string{}
	}
}

func text(a jsoniter.Any, key string) string {
	v := a.Get(key)
	switch v.ValueType() {
	case jsoniter.StringValue, jsoniter.NumberValue, jsoniter.BoolValue:
		return strings.TrimSpace(v.ToString())
	}
	return ""
}

// list accepts an array of scalars or a single string.
func list(a jsoniter.Any, key string) []string {
	v := a.Get(key)
	out := []string{}
	switch v.ValueType() {
	case jsoniter.ArrayValue:
		for i := 0; i < v.Size(); i++ {
			el := v.Get(i)
			switch el.ValueType() {
			case jsoniter.StringValue, jsoniter.NumberValue:
				if s := strings.TrimSpace(el.ToString()); s != "" {
					out = append(out, s)
				}
			}
		}
	case jsoniter.StringValue:
		if s := strings.TrimSpace(v.ToString()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
