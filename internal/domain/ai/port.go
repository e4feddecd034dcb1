package ai

import "context"

// Request carries the finding details that go into the remediation prompt.
type Request struct {
	TemplateID       string
	Name             string
	Severity         string
	MatchedAt        string
	ExtractedResults []string
}

// Client returns the model's raw reply; it makes no promise about its shape.
type Client interface {
	Analyze(ctx context.Context, req Request) (string, error)
	Model() string
}
