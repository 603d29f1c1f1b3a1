package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/llm/circuitbreaker"
	"github.com/BaSui01/answerflow/types"
)

func TestOpenAIProvider_Completion(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4o-mini","choices":[{"message":{"content":"Brandon leads drama."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL, APIKey: "sk-test"}}, nil)
	resp, err := p.Completion(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: UserPrompt("be brief", "Who is Brandon?"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Brandon leads drama.", resp.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
	assert.False(t, resp.UsageEstimated)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProvider_EstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"an answer"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil)
	resp, err := p.Completion(context.Background(), &ChatRequest{Model: "local", Messages: UserPrompt("", "q")})
	require.NoError(t, err)

	assert.True(t, resp.UsageEstimated)
	assert.Greater(t, resp.Usage.PromptTokens, 0)
	assert.Greater(t, resp.Usage.CompletionTokens, 0)
	assert.Equal(t, "local", resp.Model)
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil)
	_, err := p.Completion(context.Background(), &ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))

	status = http.StatusTooManyRequests
	_, err = p.Completion(context.Background(), &ChatRequest{Model: "m"})
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))

	status = http.StatusBadRequest
	_, err = p.Completion(context.Background(), &ChatRequest{Model: "m"})
	assert.False(t, types.IsRetryable(err))
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{HTTPConfig: HTTPConfig{BaseURL: srv.URL}}, nil)
	_, err := p.Completion(context.Background(), &ChatRequest{Model: "m"})
	assert.Error(t, err)
}

func TestHTTPClient_BreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{Name: "gen", ConsecutiveFailures: 2, Timeout: time.Hour}, nil)
	c := NewHTTPClient(HTTPConfig{Name: "gen", BaseURL: srv.URL, Breaker: cb})

	for i := 0; i < 3; i++ {
		_ = c.PostJSON(context.Background(), "/x", map[string]string{}, nil)
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestHTTPClient_DecodeErrorDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{Name: "gen", ConsecutiveFailures: 1, Timeout: time.Hour}, nil)
	c := NewHTTPClient(HTTPConfig{Name: "gen", BaseURL: srv.URL, Breaker: cb})

	var out map[string]any
	for i := 0; i < 2; i++ {
		err := c.PostJSON(context.Background(), "/x", map[string]string{}, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode gen response")
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}
