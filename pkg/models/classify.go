package models

import "context"

// ClassifyProvider is the core interface all LLM classification integrations
// must implement. Never call a specific provider directly — always inject
// this interface.
type ClassifyProvider interface {
	// Classify labels a batch of answers for one brand. Implementations
	// return one result per input answer; per-answer failures are reported
	// via ClassifyResult.Error rather than failing the batch.
	Classify(ctx context.Context, req ClassifyRequest) ([]ClassifyResult, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
}

// ClassifyRequest is the input to a classification call.
type ClassifyRequest struct {
	BrandName string
	Answers   []AnswerText
}

// AnswerText is the prompt/response pair sent to the provider for one answer.
type AnswerText struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// ClassifyResult is one answer's label as returned by the provider.
type ClassifyResult struct {
	AnswerID   string  `json:"answer_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}
