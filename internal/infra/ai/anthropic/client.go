package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

// Client implements ai.Client using the Anthropic Messages API.
type Client struct {
	client *anthropic.Client
}

// NewClient creates a new Anthropic client. baseURL is optional.
func NewClient(apiKey, baseURL string) *Client {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &Client{client: anthropic.NewClient(apiKey, opts...)}
}

func (c *Client) Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	temperature := float32(req.Temperature)
	apiReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(req.UserPrompt),
		},
	}
	if req.SystemPrompt != "" {
		apiReq.MultiSystem = []anthropic.MessageSystemPart{
			anthropic.NewSystemMessagePart(req.SystemPrompt),
		}
	}

	resp, err := c.client.CreateMessages(ctx, apiReq)
	if err != nil {
		return ai.CompletionResponse{}, classify(ctx, err)
	}
	text := resp.GetFirstContentText()
	if text == "" {
		return ai.CompletionResponse{}, ai.NewProviderError(aiconfig.ProviderAnthropic, ai.KindProviderUnavailable, errors.New("no text content returned"))
	}

	return ai.CompletionResponse{
		Text:             text,
		Model:            string(resp.Model),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

func classify(ctx context.Context, err error) error {
	p := aiconfig.ProviderAnthropic
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ai.NewProviderError(p, ai.KindTimeout, err)
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch string(apiErr.Type) {
		case "authentication_error", "permission_error":
			return ai.NewProviderError(p, ai.KindAuth, err)
		case "rate_limit_error":
			return ai.NewProviderError(p, ai.KindRateLimited, err)
		case "overloaded_error", "api_error":
			return ai.NewProviderError(p, ai.KindProviderUnavailable, err)
		}
		return &aiconfig.ConfigurationError{Field: "model", Reason: fmt.Sprintf("anthropic rejected the request: %v", err)}
	}
	status := 0
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode
	}
	if pe, ok := ai.FromHTTPStatus(p, status, err); ok {
		return pe
	}
	return &aiconfig.ConfigurationError{Field: "model", Reason: fmt.Sprintf("anthropic rejected the request: %v", err)}
}
