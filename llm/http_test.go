package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"
	_ "github.com/c360studio/icl/llm/providers" // Register providers
	"github.com/c360studio/icl/model"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 8, "total_tokens": 18},
	}
}

func fastRetry() llm.Option {
	return llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       10 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxBackoff:        100 * time.Millisecond,
	})
}

func TestHTTPClient_Prompt_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen2.5-coder:14b", body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply(`{"ok": true}`))
	}))
	defer server.Close()

	c := llm.NewHTTPClient()
	out, err := c.Prompt(context.Background(), "hello", llm.Options{
		Endpoint: &model.EndpointConfig{Binding: "http", Provider: "ollama", URL: server.URL + "/v1", Model: "qwen2.5-coder:14b"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
}

func TestHTTPClient_Prompt_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
			return
		}
		json.NewEncoder(w).Encode(chatReply("Success after retries"))
	}))
	defer server.Close()

	c := llm.NewHTTPClient(fastRetry())
	out, err := c.Prompt(context.Background(), "p", llm.Options{
		Endpoint: &model.EndpointConfig{Provider: "ollama", URL: server.URL, Model: "m"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Success after retries", out)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_Prompt_NoRetryOnFatalError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Invalid API key"))
	}))
	defer server.Close()

	c := llm.NewHTTPClient(fastRetry())
	_, err := c.Prompt(context.Background(), "p", llm.Options{
		Endpoint: &model.EndpointConfig{Provider: "ollama", URL: server.URL, Model: "m"},
	})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.LLMUnavailable))
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHTTPClient_Prompt_Errors(t *testing.T) {
	c := llm.NewHTTPClient()

	_, err := c.Prompt(context.Background(), "p", llm.Options{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.LLMUnavailable))

	_, err = c.Prompt(context.Background(), "p", llm.Options{
		Endpoint: &model.EndpointConfig{Provider: "nope", Model: "m"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider: nope")
}

func TestHTTPClient_Prompt_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()
	// Close waits for in-flight handlers, so let the handler go first.
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	c := llm.NewHTTPClient(fastRetry())
	_, err := c.Prompt(ctx, "p", llm.Options{
		Endpoint: &model.EndpointConfig{Provider: "ollama", URL: server.URL, Model: "m"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
