package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/model"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// HTTPClient sends prompts to a chat-completions style API. The endpoint
// (provider, URL, model) comes from Options.Endpoint, usually filled in by
// Router from the model registry.
type HTTPClient struct {
	settings
}

// NewHTTPClient creates an HTTP binding.
func NewHTTPClient(opts ...Option) *HTTPClient {
	return &HTTPClient{settings: newSettings(opts)}
}

// Prompt implements Client.
func (c *HTTPClient) Prompt(ctx context.Context, text string, opts Options) (string, error) {
	ep := opts.Endpoint
	if ep == nil {
		return "", failure.New(failure.LLMUnavailable, "http binding needs an endpoint").
			WithHint("Configure an endpoint with binding: http under models.endpoints in icl.yaml.")
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = ep.Model
	}

	logger := c.logger.With("request_id", uuid.NewString(), "provider", ep.Provider, "model", modelName)
	resp, attempts, err := withRetry(ctx, c.retry, c.sleep,
		func(attempt int, backoff time.Duration, err error) {
			c.metrics.LLMRetry()
			logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retry.MaxAttempts,
				"backoff", backoff,
				"error", err)
		},
		func(int) (string, error) {
			return c.doRequest(ctx, ep, modelName, text)
		})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", failure.Wrap(failure.LLMUnavailable, err, "%s request failed after %d attempt(s)", ep.Provider, attempts)
}

// doRequest executes a single HTTP request to the endpoint.
func (c *HTTPClient) doRequest(ctx context.Context, ep *model.EndpointConfig, modelName, text string) (string, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return "", NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)
	body, err := provider.BuildRequestBody(modelName, []Message{{Role: "user", Content: text}}, nil, ep.MaxTokens)
	if err != nil {
		return "", NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.LLMCall("http", "error", time.Since(start))
		return "", NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		c.metrics.LLMCall("http", "error", time.Since(start))
		return "", NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		outcome := "error"
		if httpResp.StatusCode == http.StatusTooManyRequests {
			outcome = "rate_limited"
		}
		c.metrics.LLMCall("http", outcome, time.Since(start))
		return "", classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody, modelName)
	if err != nil {
		c.metrics.LLMCall("http", "error", time.Since(start))
		return "", NewFatalError(err)
	}
	c.metrics.LLMCall("http", "ok", time.Since(start))
	c.logger.Debug("HTTP call succeeded",
		"provider", ep.Provider,
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"finish_reason", resp.FinishReason)
	return resp.Content, nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(&RateLimitError{Detail: err.Error()})
	case statusCode >= 500:
		return NewTransientError(err)
	default:
		// 4xx: auth, bad request, unknown model
		return NewFatalError(err)
	}
}
