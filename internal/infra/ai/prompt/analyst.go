package prompt

import (
	"fmt"
	"strings"

	"github.com/HwangHoYoon/trust/internal/domain/ai"
)

// maxExtractedInPrompt limits how many extracted values are quoted to the model.
const maxExtractedInPrompt = 10

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a senior web application security engineer. Explain one vulnerability scanner finding and how to fix it.
Respond with one valid JSON object only (no markdown, no commentary, no code fences) that follows the schema below.

Requirements:
- category must be one of: api_leak, exposure, misconfig, cve, privacy_risk.
- fix_complexity must be one of: simple, moderate, complex.
- fix_steps is an ordered array of short imperative sentences.
- before_code shows a minimal vulnerable example, after_code the corrected version. Use plain strings with \n for line breaks.
- references is an array of URLs to authoritative sources (OWASP, CWE, vendor advisories).
- Never repeat secrets found in extracted results; refer to them generically.

Schema:
{
  "description": "<string>",
  "impact": "<string>",
  "category": "<api_leak|exposure|misconfig|cve|privacy_risk>",
  "before_code": "<string>",
  "after_code": "<string>",
  "fix_steps": ["<string>"],
  "fix_complexity": "<simple|moderate|complex>",
  "references": ["<url>"]
}`
}

// GetUserPrompt describes the finding to analyze.
func GetUserPrompt(req ai.Request) string {
	var b strings.Builder
	b.WriteString("Analyze this scanner finding and respond with the JSON per schema.\n")
	fmt.Fprintf(&b, "Template ID: %s\n", req.TemplateID)
	fmt.Fprintf(&b, "Name: %s\n", req.Name)
	fmt.Fprintf(&b, "Severity: %s\n", req.Severity)
	fmt.Fprintf(&b, "Matched at: %s\n", req.MatchedAt)
	if len(req.ExtractedResults) > 0 {
		extracted := req.ExtractedResults
		if len(extracted) > maxExtractedInPrompt {
			extracted = extracted[:maxExtractedInPrompt]
		}
		fmt.Fprintf(&b, "Extracted results: %s\n", strings.Join(extracted, ", "))
	}
	return b.String()
}
