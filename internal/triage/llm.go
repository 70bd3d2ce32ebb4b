package triage

import "context"

// Provider is the interface for any text completion backend.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	MaxTokens   int
	System      string
	Prompt      string
	Temperature float64
}

// CompletionResponse is the text the provider produced, plus accounting.
type CompletionResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
