package analyst

import "time"

// Category of a remediation.
type Category string

const (
	CategoryAPILeak     Category = "api_leak"
	CategoryExposure    Category = "exposure"
	CategoryMisconfig   Category = "misconfig"
	CategoryCVE         Category = "cve"
	CategoryPrivacyRisk Category = "privacy_risk"
)

// Complexity of applying a fix.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Remediation is the interpreted model output for one finding. It is always
// complete: fallback records carry placeholders and zero confidence.
type Remediation struct {
	FindingID     int64      `json:"finding_id"`
	Description   string     `json:"description"`
	Impact        string     `json:"impact"`
	Category      Category   `json:"category"`
	BeforeCode    string     `json:"before_code"`
	AfterCode     string     `json:"after_code"`
	FixSteps      []string   `json:"fix_steps"`
	FixComplexity Complexity `json:"fix_complexity"`
	References    []string   `json:"references"`
	Model         string     `json:"model"`
	Confidence    float64    `json:"confidence"`
	AnalyzedAt    time.Time  `json:"analyzed_at"`
	RawResponse   string     `json:"raw_response"`
}

// Subject identifies the finding being explained.
type Subject struct {
	FindingID int64
	Name      string
}

func (s Subject) displayName() string {
	if s.Name == "" {
		return "unnamed"
	}
	return s.Name
}

func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryAPILeak, CategoryExposure, CategoryMisconfig, CategoryCVE, CategoryPrivacyRisk:
		return c
	}
	return CategoryExposure
}

func ParseComplexity(s string) Complexity {
	switch c := Complexity(s); c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return c
	}
	return ComplexityModerate
}
