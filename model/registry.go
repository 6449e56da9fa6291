package model

import (
	"sort"
	"sync"
)

// Bindings supported by an endpoint.
const (
	BindingCLI  = "cli"
	BindingHTTP = "http"
)

// DefaultCLI is the executable used when an endpoint does not name one.
const DefaultCLI = "gemini"

// Registry manages model selection based on categories.
// It maps categories to preferred endpoints with fallback chains.
type Registry struct {
	mu         sync.RWMutex
	categories map[Category]*CategoryConfig
	endpoints  map[string]*EndpointConfig
	defaults   *DefaultsConfig
	health     *healthState
}

// CategoryConfig defines endpoint preferences for a category.
type CategoryConfig struct {
	// Description explains what this category is for.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Preferred lists endpoints in order of preference.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Binding selects the transport: "cli" (default) or "http".
	Binding string `json:"binding,omitempty" yaml:"binding,omitempty"`

	// CLI is the executable for the cli binding.
	CLI string `json:"cli,omitempty" yaml:"cli,omitempty"`

	// Provider is the HTTP provider (anthropic, ollama, openai).
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// URL is the API base URL for the http binding.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the model identifier passed to the CLI or provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens caps the completion length for the http binding.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// BindingName returns the effective binding, defaulting to cli.
func (e *EndpointConfig) BindingName() string {
	if e.Binding == "" {
		return BindingCLI
	}
	return e.Binding
}

// Executable returns the CLI to spawn, defaulting to DefaultCLI.
func (e *EndpointConfig) Executable() string {
	if e.CLI == "" {
		return DefaultCLI
	}
	return e.CLI
}

// DefaultsConfig holds default endpoint settings.
type DefaultsConfig struct {
	// Category is used when an agent names no category.
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`

	// Endpoint is used when a category has no configuration.
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// NewRegistry creates a new model registry with the given configuration.
func NewRegistry(cats map[Category]*CategoryConfig, endpoints map[string]*EndpointConfig) *Registry {
	if cats == nil {
		cats = make(map[Category]*CategoryConfig)
	}
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{
		categories: cats,
		endpoints:  endpoints,
		defaults: &DefaultsConfig{
			Category: CategoryDailyDriver,
			Endpoint: "default",
		},
	}
}

// NewDefaultRegistry creates a registry that maps every category onto the
// gemini CLI. Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	return &Registry{
		categories: map[Category]*CategoryConfig{
			CategoryHighReasoning: {
				Description: "Architecture, planning, deep review",
				Preferred:   []string{"gemini-pro"},
				Fallback:    []string{"gemini-flash"},
			},
			CategoryFastExecution: {
				Description: "Quick, mechanical transformations",
				Preferred:   []string{"gemini-flash-lite"},
				Fallback:    []string{"gemini-flash"},
			},
			CategoryDailyDriver: {
				Description: "General-purpose generation",
				Preferred:   []string{"gemini-flash"},
				Fallback:    []string{"gemini-pro"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"gemini-pro": {
				CLI:   DefaultCLI,
				Model: "gemini-2.5-pro",
			},
			"gemini-flash": {
				CLI:   DefaultCLI,
				Model: "gemini-2.5-flash",
			},
			"gemini-flash-lite": {
				CLI:   DefaultCLI,
				Model: "gemini-2.5-flash-lite",
			},
		},
		defaults: &DefaultsConfig{
			Category: CategoryDailyDriver,
			Endpoint: "gemini-flash",
		},
	}
}

// Resolve returns the preferred endpoint name for a category.
func (r *Registry) Resolve(cat Category) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.categories[cat]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Endpoint
}

// FallbackChain returns all endpoints for a category in order of preference.
// An empty category resolves through the default category.
func (r *Registry) FallbackChain(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cat == "" {
		cat = r.defaults.Category
	}
	if cfg, ok := r.categories[cat]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		for _, name := range cfg.Fallback {
			if !contains(chain, name) {
				chain = append(chain, name)
			}
		}
		return chain
	}
	return []string{r.defaults.Endpoint}
}

// DefaultCategory returns the category used when an agent names none.
func (r *Registry) DefaultCategory() Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults.Category
}

// Endpoint returns the endpoint configuration for a name, or nil.
func (r *Registry) Endpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// SetCategory updates or adds a category configuration.
func (r *Registry) SetCategory(cat Category, cfg *CategoryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[cat] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = cfg
}

// SetDefault sets the default endpoint.
func (r *Registry) SetDefault(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults.Endpoint = endpoint
}

// ListCategories returns all configured categories, sorted.
func (r *Registry) ListCategories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cats := make([]Category, 0, len(r.categories))
	for c := range r.categories {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// ListEndpoints returns all configured endpoint names, sorted.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
