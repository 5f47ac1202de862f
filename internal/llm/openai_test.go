package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomtoy/chess-arena/internal/llm"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) llm.Config {
	return llm.Config{
		Provider: llm.ProviderOpenAI,
		APIKey:   "sk-test",
		Model:    "gpt-4o-mini",
		BaseURL:  baseURL,
		Timeout:  2 * time.Second,
	}
}

func TestComplete_OK(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "I like it.\nMOVE: e4"}}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48}
		}`))
	})

	c, err := llm.NewOpenAI(testConfig(srv.URL))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), llm.Request{System: "persona", Prompt: "your move"})
	require.NoError(t, err)
	assert.Equal(t, "I like it.\nMOVE: e4", out.Text)
	assert.Equal(t, 48, out.TotalTokens)
	assert.Equal(t, 40, out.PromptTokens)
	assert.Equal(t, 8, out.CompletionTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "your move", got.Messages[1].Content)
}

func TestComplete_APIErrorCarriesStatus(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	})

	c, err := llm.NewOpenAI(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), llm.Request{Prompt: "x"})
	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.False(t, apiErr.Timeout)
}

func TestComplete_TimeoutIsAPIError(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c, err := llm.NewOpenAI(cfg)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), llm.Request{Prompt: "x"})
	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.True(t, apiErr.Timeout)
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 3}}`))
	})

	c, err := llm.NewOpenAI(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), llm.Request{Prompt: "x"})
	assert.True(t, errors.Is(err, llm.ErrEmptyResponse))
}

func TestNewOpenAI_ConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		cfg  llm.Config
	}{
		{"empty", llm.Config{}},
		{"no key", llm.Config{Provider: "openai", Model: "gpt-4o"}},
		{"unknown provider", llm.Config{Provider: "carrier-pigeon", APIKey: "k", Model: "m"}},
		{"azure without base url", llm.Config{Provider: "azure", APIKey: "k", Model: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.NewOpenAI(tt.cfg)
			var cfgErr *llm.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestConfigString_HidesKey(t *testing.T) {
	cfg := testConfig("http://x")
	assert.NotContains(t, cfg.String(), "sk-test")
}

func TestEstimateCost(t *testing.T) {
	mini := llm.EstimateCost("gpt-4o-mini-2024-07-18", 1_000_000, 0)
	full := llm.EstimateCost("gpt-4o-2024-08-06", 1_000_000, 0)
	assert.InDelta(t, 0.15, mini, 1e-9)
	assert.InDelta(t, 2.50, full, 1e-9)
	assert.Greater(t, llm.EstimateCost("some-unknown-model", 1000, 1000), 0.0)
	assert.Zero(t, llm.EstimateCost("gpt-4o", 0, 0))
}
