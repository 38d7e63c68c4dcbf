package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

type Client struct {
	*openai.Client
	Provider aiconfig.Provider
	// BaseURL is the endpoint requests go to.
	BaseURL string
}

// NewWithBaseURL targets any OpenAI-compatible endpoint. An empty
// baseURL keeps the SDK default.
func NewWithBaseURL(p aiconfig.Provider, apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Provider: p, BaseURL: cfg.BaseURL}
}

// NewGoogleClient talks to Gemini through its OpenAI-compatible API.
func NewGoogleClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	return NewWithBaseURL(aiconfig.ProviderGoogle, apiKey, baseURL)
}

func (c *Client) Complete(ctx context.Context, in ai.CompletionRequest) (ai.CompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       in.Model,
		Temperature: float32(in.Temperature),
	}
	if in.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if in.SystemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: in.SystemPrompt})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: in.UserPrompt})

	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(in.Model) {
		req.MaxCompletionTokens = in.MaxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = in.MaxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return ai.CompletionResponse{}, c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return ai.CompletionResponse{}, ai.NewProviderError(c.Provider, ai.KindProviderUnavailable, errors.New("no choices returned"))
	}

	return ai.CompletionResponse{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (c *Client) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ai.NewProviderError(c.Provider, ai.KindTimeout, err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if pe, ok := ai.FromHTTPStatus(c.Provider, status, err); ok {
		return pe
	}
	return &aiconfig.ConfigurationError{Field: "model", Reason: fmt.Sprintf("%s rejected the request: %v", c.Provider, err)}
}
