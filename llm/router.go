package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/model"
)

// Router resolves an agent's model category through the registry and tries
// each endpoint of the category's chain in turn. Endpoints that fail are
// reported to the registry's circuit breaker.
type Router struct {
	registry *model.Registry
	bindings map[string]Client
	logger   *slog.Logger
}

// NewRouter creates a router over the given bindings, keyed by binding name
// (model.BindingCLI, model.BindingHTTP).
func NewRouter(registry *model.Registry, bindings map[string]Client, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, bindings: bindings, logger: logger}
}

// Prompt implements Client. An explicit Options.Model pins the call to the
// cli binding and skips category resolution.
func (r *Router) Prompt(ctx context.Context, text string, opts Options) (string, error) {
	if opts.Model != "" {
		client, ok := r.bindings[model.BindingCLI]
		if !ok {
			return "", failure.New(failure.LLMUnavailable, "no cli binding configured")
		}
		return client.Prompt(ctx, text, opts)
	}

	cat := model.ParseCategory(opts.ModelCategory)
	if cat == "" {
		cat = model.Category(opts.ModelCategory)
	}
	chain := r.registry.AvailableChain(cat)

	var lastErr error
	for _, name := range chain {
		ep := r.registry.Endpoint(name)
		if ep == nil {
			r.logger.Warn("Unknown endpoint in category chain", "category", cat, "endpoint", name)
			continue
		}
		client, ok := r.bindings[ep.BindingName()]
		if !ok {
			lastErr = fmt.Errorf("no %s binding for endpoint %s", ep.BindingName(), name)
			continue
		}

		callOpts := opts
		callOpts.Model = ep.Model
		if callOpts.CLI == "" {
			callOpts.CLI = ep.Executable()
		}
		callOpts.Endpoint = ep

		out, err := client.Prompt(ctx, text, callOpts)
		if err == nil {
			r.registry.MarkEndpointSuccess(name)
			return out, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		r.registry.MarkEndpointFailure(name)
		r.logger.Warn("Endpoint failed, trying fallback",
			"category", cat,
			"endpoint", name,
			"error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("category %q resolves to no usable endpoint", cat)
	}
	if failure.Is(lastErr, failure.LLMUnavailable) {
		return "", lastErr
	}
	return "", failure.Wrap(failure.LLMUnavailable, lastErr, "all endpoints failed for category %q", cat)
}
