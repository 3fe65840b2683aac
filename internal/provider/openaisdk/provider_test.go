package openaisdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/internal/config"
	"casefile/internal/faults"
	"casefile/internal/models"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New("openaisdk", config.ProviderConfig{
		APIKey:  "sk-sdk",
		BaseURL: srv.URL + "/v1",
		Headers: config.Headers{"X-Case-Team": "red"},
	}, srv.Client())
	require.NoError(t, err)
	return p
}

func intPtr(v int) *int { return &v }

func TestSendThroughSDK(t *testing.T) {
	var wire map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-sdk", r.Header.Get("Authorization"))
		assert.Equal(t, "red", r.Header.Get("X-Case-Team"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-9",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 1, "total_tokens": 5}
		}`))
	})

	temp := 0.5
	resp, err := p.Send(context.Background(), models.RequestBody{
		Model: "gpt-4o-mini",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be kind"},
			{Role: models.RoleUser, Content: "hi"},
		},
		Temperature:    &temp,
		MaxTokens:      intPtr(64),
		ResponseFormat: &models.ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	assert.EqualValues(t, 64, wire["max_tokens"])
	assert.InDelta(t, 0.5, wire["temperature"], 1e-6)
	assert.Equal(t, map[string]any{"type": "json_object"}, wire["response_format"])
	msgs, ok := wire["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestSendKeepsZeroTemperature(t *testing.T) {
	var wire map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	})

	temp := 0.0
	_, err := p.Send(context.Background(), models.RequestBody{
		Model:       "gpt-4o",
		Messages:    []models.Message{{Role: models.RoleUser, Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   intPtr(8),
	})
	require.NoError(t, err)

	got, ok := wire["temperature"]
	require.True(t, ok, "temperature missing from request")
	assert.InDelta(t, 0.0, got, 1e-6)
}

func TestSendAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	})

	_, err := p.Send(context.Background(), models.RequestBody{
		Model:     "gpt-4o",
		Messages:  []models.Message{{Role: models.RoleUser, Content: "hi"}},
		MaxTokens: intPtr(8),
	})

	var perr *faults.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.Status)
	assert.Equal(t, "slow down", perr.Body)
	assert.True(t, faults.IsRetryable(err))
}

func TestSendEmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	})

	_, err := p.Send(context.Background(), models.RequestBody{
		Model:     "gpt-4o",
		Messages:  []models.Message{{Role: models.RoleUser, Content: "hi"}},
		MaxTokens: intPtr(8),
	})

	var perr *faults.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, faults.StatusEmptyCompletion, perr.Status)
}

func TestToRequestReasoningDialect(t *testing.T) {
	req := toRequest(models.RequestBody{
		Model:               "o4-mini",
		Messages:            []models.Message{{Role: models.RoleUser, Content: "hi"}},
		MaxCompletionTokens: intPtr(300),
	})

	assert.Zero(t, req.MaxTokens)
	assert.Equal(t, 300, req.MaxCompletionTokens)
	assert.Zero(t, req.Temperature)
	assert.Nil(t, req.ResponseFormat)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New("openaisdk", config.ProviderConfig{}, http.DefaultClient)
	assert.Error(t, err)
}
