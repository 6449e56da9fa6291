package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"
	"github.com/c360studio/icl/model"
)

func TestRouter_ResolvesCategory(t *testing.T) {
	var got llm.Options
	cli := llm.ClientFunc(func(_ context.Context, _ string, opts llm.Options) (string, error) {
		got = opts
		return "ok", nil
	})

	r := llm.NewRouter(model.NewDefaultRegistry(), map[string]llm.Client{model.BindingCLI: cli}, nil)
	out, err := r.Prompt(context.Background(), "p", llm.Options{ModelCategory: "High Reasoning"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "gemini-2.5-pro", got.Model)
	assert.Equal(t, "gemini", got.CLI)
	require.NotNil(t, got.Endpoint)
}

func TestRouter_ExplicitModelSkipsRegistry(t *testing.T) {
	var got llm.Options
	cli := llm.ClientFunc(func(_ context.Context, _ string, opts llm.Options) (string, error) {
		got = opts
		return "ok", nil
	})

	r := llm.NewRouter(model.NewDefaultRegistry(), map[string]llm.Client{model.BindingCLI: cli}, nil)
	_, err := r.Prompt(context.Background(), "p", llm.Options{Model: "custom-model", CLI: "claude", ModelCategory: "High Reasoning"})
	require.NoError(t, err)
	assert.Equal(t, "custom-model", got.Model)
	assert.Equal(t, "claude", got.CLI)
	assert.Nil(t, got.Endpoint)
}

func TestRouter_FallsBackAndTripsBreaker(t *testing.T) {
	var models []string
	cli := llm.ClientFunc(func(_ context.Context, _ string, opts llm.Options) (string, error) {
		models = append(models, opts.Model)
		if opts.Model == "gemini-2.5-pro" {
			return "", failure.Wrap(failure.LLMUnavailable, llm.NewTransientError(&llm.RateLimitError{Detail: "quota"}), "gemini failed")
		}
		return "fallback ok", nil
	})

	reg := model.NewDefaultRegistry()
	reg.SetHealthConfig(model.HealthConfig{FailureThreshold: 1, RecoveryTimeout: 1 << 62})
	r := llm.NewRouter(reg, map[string]llm.Client{model.BindingCLI: cli}, nil)

	out, err := r.Prompt(context.Background(), "p", llm.Options{ModelCategory: "high_reasoning"})
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", out)
	assert.Equal(t, []string{"gemini-2.5-pro", "gemini-2.5-flash"}, models)

	// The open circuit skips the failed endpoint on the next call.
	models = nil
	_, err = r.Prompt(context.Background(), "p", llm.Options{ModelCategory: "High Reasoning"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-flash"}, models)
}

func TestRouter_AllEndpointsFail(t *testing.T) {
	cli := llm.ClientFunc(func(context.Context, string, llm.Options) (string, error) {
		return "", errors.New("boom")
	})

	r := llm.NewRouter(model.NewDefaultRegistry(), map[string]llm.Client{model.BindingCLI: cli}, nil)
	_, err := r.Prompt(context.Background(), "p", llm.Options{})
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.LLMUnavailable))
	assert.Contains(t, err.Error(), "boom")
}

func TestRouter_MissingBinding(t *testing.T) {
	reg := model.NewRegistry(map[model.Category]*model.CategoryConfig{
		model.CategoryDailyDriver: {Preferred: []string{"remote"}},
	}, map[string]*model.EndpointConfig{
		"remote": {Binding: model.BindingHTTP, Provider: "ollama", Model: "m"},
	})

	r := llm.NewRouter(reg, map[string]llm.Client{}, nil)
	_, err := r.Prompt(context.Background(), "p", llm.Options{ModelCategory: "Daily Driver"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no http binding")
}

func TestRouter_CancellationStopsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cli := llm.ClientFunc(func(ctx context.Context, _ string, _ llm.Options) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	})

	r := llm.NewRouter(model.NewDefaultRegistry(), map[string]llm.Client{model.BindingCLI: cli}, nil)
	_, err := r.Prompt(ctx, "p", llm.Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
