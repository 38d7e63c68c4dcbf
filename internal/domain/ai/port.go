package ai

import (
	"context"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// CompletionRequest is the provider-neutral chat completion input.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
	// JSONMode asks the backend for a single JSON object when supported.
	JSONMode bool
}

// CompletionResponse is normalized across providers.
type CompletionResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client talks to one LLM backend.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Factory builds a client for a provider using the given secret.
type Factory interface {
	Client(p aiconfig.Provider, apiKey string) (Client, error)
}
