package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
)

const chatOK = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "gpt-4o-mini-2024-07-18",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"summary\":\"ok\"}"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 120, "completion_tokens": 45, "total_tokens": 165}
}`

// chatServer answers /v1/chat/completions and keeps the last request body.
type chatServer struct {
	*httptest.Server
	status int
	body   string

	mu   sync.Mutex
	last map[string]any
	auth string
}

func (cs *chatServer) request() (map[string]any, string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.last, cs.auth
}

func newChatServer(t *testing.T, status int, body string) *chatServer {
	t.Helper()
	cs := &chatServer{status: status, body: body}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cs.mu.Lock()
		cs.last, cs.auth = body, r.Header.Get("Authorization")
		cs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cs.status)
		_, _ = w.Write([]byte(cs.body))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func labRequest(model string) ai.CompletionRequest {
	return ai.CompletionRequest{
		SystemPrompt: "You are a laboratory analyst.",
		UserPrompt:   "Ferritin 12 ng/mL",
		Model:        model,
		Temperature:  0.3,
		MaxTokens:    1500,
		JSONMode:     true,
	}
}

// kindOf names the failure the pipeline would record.
func kindOf(err error) string {
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	if aiconfig.IsConfigurationError(err) {
		return "configuration"
	}
	return "other"
}

func TestComplete_RequestShapeAndUsage(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, chatOK)
	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", srv.URL+"/v1")

	resp, err := c.Complete(context.Background(), labRequest("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, resp.Text)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)
	assert.Equal(t, 120, resp.PromptTokens)
	assert.Equal(t, 45, resp.CompletionTokens)

	body, auth := srv.request()
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 1500, body["max_tokens"])
	assert.NotContains(t, body, "max_completion_tokens")
	assert.InDelta(t, 0.3, body["temperature"], 1e-6)
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "Ferritin 12 ng/mL", msgs[1].(map[string]any)["content"])
}

func TestComplete_ReasoningModelUsesMaxCompletionTokens(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, chatOK)
	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), labRequest("o3-mini"))
	require.NoError(t, err)
	body, _ := srv.request()
	assert.EqualValues(t, 1500, body["max_completion_tokens"])
	assert.NotContains(t, body, "max_tokens")
	assert.NotContains(t, body, "temperature")
}

func TestComplete_NoChoices(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","model":"gpt-4o-mini","choices":[]}`)
	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", srv.URL+"/v1")

	_, err := c.Complete(context.Background(), labRequest("gpt-4o-mini"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
}

func TestComplete_ClassifiesHTTPFailures(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{http.StatusBadRequest, `{"error":{"message":"unknown parameter","type":"invalid_request_error"}}`, "configuration"},
		{http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, string(ai.KindAuth)},
		{http.StatusForbidden, `{"error":{"message":"region blocked","type":"permission_error"}}`, string(ai.KindAuth)},
		{http.StatusNotFound, `{"error":{"message":"model not found","type":"invalid_request_error"}}`, "configuration"},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, string(ai.KindRateLimited)},
		{http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, string(ai.KindProviderUnavailable)},
		{http.StatusBadGateway, `<html>bad gateway</html>`, string(ai.KindProviderUnavailable)},
		{http.StatusGatewayTimeout, `<html>upstream timeout</html>`, string(ai.KindTimeout)},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := newChatServer(t, tc.status, tc.body)
			c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", srv.URL+"/v1")

			_, err := c.Complete(context.Background(), labRequest("gpt-4o-mini"))
			require.Error(t, err)
			assert.Equal(t, tc.want, kindOf(err))
		})
	}
}

func TestComplete_ConnectionRefusedIsUnavailable(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, chatOK)
	url := srv.URL
	srv.Close()

	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", url+"/v1")
	_, err := c.Complete(context.Background(), labRequest("gpt-4o-mini"))
	require.Error(t, err)
	assert.Equal(t, string(ai.KindProviderUnavailable), kindOf(err))
}

func TestComplete_DeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", srv.URL+"/v1")
	_, err := c.Complete(ctx, labRequest("gpt-4o-mini"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrTimeout)
}

func TestNewGoogleClient(t *testing.T) {
	c := NewGoogleClient("g-key", "")
	assert.Equal(t, aiconfig.ProviderGoogle, c.Provider)
	assert.Equal(t, GeminiBaseURL, c.BaseURL)

	srv := newChatServer(t, http.StatusTooManyRequests, `{"error":{"message":"quota","type":"RESOURCE_EXHAUSTED"}}`)
	c = NewGoogleClient("g-key", srv.URL+"/v1/")
	assert.Equal(t, srv.URL+"/v1", c.BaseURL)

	_, err := c.Complete(context.Background(), labRequest("gemini-2.0-flash"))
	var pe *ai.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, aiconfig.ProviderGoogle, pe.Provider)
	assert.Equal(t, ai.KindRateLimited, pe.Kind)
}

func TestNewWithBaseURL_DefaultEndpoint(t *testing.T) {
	c := NewWithBaseURL(aiconfig.ProviderOpenAI, "sk-test", "")
	assert.Equal(t, "https://api.openai.com/v1", c.BaseURL)
}
