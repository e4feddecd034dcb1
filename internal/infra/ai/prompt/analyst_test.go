package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HwangHoYoon/trust/internal/domain/ai"
)

func TestGetUserPrompt(t *testing.T) {
	p := GetUserPrompt(ai.Request{
		TemplateID:       "exposed-env",
		Name:             "Exposed .env",
		Severity:         "high",
		MatchedAt:        "https://example.com/.env",
		ExtractedResults: []string{"APP_KEY", "DB_HOST"},
	})
	assert.Contains(t, p, "Template ID: exposed-env\n")
	assert.Contains(t, p, "Name: Exposed .env\n")
	assert.Contains(t, p, "Severity: high\n")
	assert.Contains(t, p, "Matched at: https://example.com/.env\n")
	assert.Contains(t, p, "Extracted results: APP_KEY, DB_HOST\n")
}

func TestGetUserPromptLimitsExtracted(t *testing.T) {
	var values []string
	for i := 0; i < 25; i++ {
		values = append(values, fmt.Sprintf("v%d", i))
	}
	p := GetUserPrompt(ai.Request{ExtractedResults: values})
	assert.Contains(t, p, "v9")
	assert.NotContains(t, p, "v10")
	assert.False(t, strings.Contains(GetUserPrompt(ai.Request{}), "Extracted results"))
}

func TestSystemPromptNamesEveryField(t *testing.T) {
	sys := GetSystemPrompt()
	for _, key := range []string{"description", "impact", "category", "before_code", "after_code", "fix_steps", "fix_complexity", "references"} {
		assert.Contains(t, sys, `"`+key+`"`)
	}
}
