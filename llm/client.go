// Package llm sends assembled prompts to an AI coding CLI or an HTTP provider
// and extracts structured payloads from the replies.
//
// Two bindings implement Client: CLIClient spawns an external tool such as
// gemini with the prompt as its last argument, and HTTPClient talks to a
// chat-completions style API through a registered Provider. Router resolves an
// agent's model category through the model registry and falls back along the
// category's endpoint chain.
package llm

import (
	"context"

	"github.com/c360studio/icl/model"
)

// Options selects the model for a single prompt. Zero fields fall back to the
// client's defaults.
type Options struct {
	// Model is the concrete model identifier (e.g. "gemini-2.5-pro").
	Model string

	// ModelCategory names a registry category when Model is empty.
	ModelCategory string

	// CLI is the executable for the cli binding.
	CLI string

	// Streaming forwards the tool's stderr to the configured sink while it runs.
	Streaming bool

	// Endpoint carries provider settings for the http binding.
	Endpoint *model.EndpointConfig
}

// Client sends a prompt and returns the raw reply text.
//
// Implementations return a failure.LLMUnavailable error once retries are
// exhausted and the bare context error when ctx is cancelled.
type Client interface {
	Prompt(ctx context.Context, text string, opts Options) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, text string, opts Options) (string, error)

// Prompt implements Client.
func (f ClientFunc) Prompt(ctx context.Context, text string, opts Options) (string, error) {
	return f(ctx, text, opts)
}
