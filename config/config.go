// Package config provides configuration loading and management for icl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/icl/llm"
	"github.com/c360studio/icl/model"
	"github.com/c360studio/icl/ontology"
)

// Config represents the complete icl configuration
type Config struct {
	LLM       LLMConfig             `yaml:"llm"`
	Loop      LoopConfig            `yaml:"loop"`
	Events    EventsConfig          `yaml:"events"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	Workspace WorkspaceConfig       `yaml:"workspace"`
	Models    *model.RegistryConfig `yaml:"models,omitempty"`
}

// LLMConfig configures how prompts reach a model
type LLMConfig struct {
	// Binding selects the transport: "cli" (subprocess) or "http"
	Binding string `yaml:"binding"`
	// CLI is the executable used by the cli binding (default: gemini)
	CLI string `yaml:"cli"`
	// Model overrides category routing when set
	Model string `yaml:"model"`
	// Category is the model category used for agents that declare none
	Category string `yaml:"category"`
	// Timeout bounds each attempt, not the whole call
	Timeout time.Duration `yaml:"timeout"`
	// OutputFormat is passed to the CLI as --output-format (empty omits it)
	OutputFormat string `yaml:"output_format"`
	// Provider names the HTTP provider (openai, ollama, anthropic)
	Provider string `yaml:"provider"`
	// Endpoint is the HTTP base URL for the http binding
	Endpoint string `yaml:"endpoint"`
	// Debug passes --debug to the CLI
	Debug bool `yaml:"debug"`
	// Retry is the rate-limit backoff schedule
	Retry llm.RetryConfig `yaml:"retry"`
}

// LoopConfig bounds the iteration runtime
type LoopConfig struct {
	// MaxIterations is the run-wide cycle budget
	MaxIterations int `yaml:"max_iterations"`
	// DefaultMaxRetries applies to edges without loop.maxRetries
	DefaultMaxRetries int `yaml:"default_max_retries"`
	// DefaultPassThreshold applies to edges without loop.passThreshold
	DefaultPassThreshold float64 `yaml:"default_pass_threshold"`
	// Observations is the size of the observation ring (negative = disabled)
	Observations int `yaml:"observations"`
	// CommitHook asks the model to commit work-dir changes after each persisted artifact
	CommitHook bool `yaml:"commit_hook"`
	// RootEntity is the implicit entity seeded with the goal
	RootEntity string `yaml:"root_entity"`
}

// EventsConfig configures the optional NATS event mirror
type EventsConfig struct {
	// NATSURL is the server to publish to (empty = disabled)
	NATSURL string `yaml:"nats_url"`
	// Subject is the subject prefix; events go to <subject>.<iteration id>
	Subject string `yaml:"subject"`
}

// MetricsConfig configures metrics export
type MetricsConfig struct {
	// Textfile is written in Prometheus text format at exit (empty = disabled)
	Textfile string `yaml:"textfile"`
	// Addr serves /metrics while a run is in progress (empty = disabled)
	Addr string `yaml:"addr"`
}

// WorkspaceConfig configures change tracking in the work dir
type WorkspaceConfig struct {
	// Ignore lists doublestar globs excluded from change tracking
	Ignore []string `yaml:"ignore"`
}

// Binding names accepted by llm.binding.
const (
	BindingCLI  = model.BindingCLI
	BindingHTTP = model.BindingHTTP
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Binding:      BindingCLI,
			CLI:          model.DefaultCLI,
			Category:     string(model.CategoryDailyDriver),
			Timeout:      llm.DefaultTimeout,
			OutputFormat: "text",
			Retry:        llm.DefaultRetryConfig(),
		},
		Loop: LoopConfig{
			MaxIterations:        100,
			DefaultMaxRetries:    ontology.DefaultMaxRetries,
			DefaultPassThreshold: ontology.DefaultPassThreshold,
			Observations:         10,
			RootEntity:           ontology.DefaultRoot,
		},
		Events: EventsConfig{
			Subject: "icl.events",
		},
		Workspace: WorkspaceConfig{
			Ignore: []string{
				".git/**",
				".infinitecodingloop/**",
				"node_modules/**",
				"target/**",
				"dist/**",
			},
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.LLM.Binding {
	case BindingCLI:
		if c.LLM.CLI == "" {
			return fmt.Errorf("llm.cli is required for the cli binding")
		}
	case BindingHTTP:
		if c.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint is required for the http binding")
		}
	default:
		return fmt.Errorf("llm.binding must be %q or %q, got %q", BindingCLI, BindingHTTP, c.LLM.Binding)
	}
	if c.LLM.Category != "" && model.ParseCategory(c.LLM.Category) == "" && !c.definesCategory(c.LLM.Category) {
		return fmt.Errorf("llm.category %q is not a known category", c.LLM.Category)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1")
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1")
	}
	if c.Loop.DefaultMaxRetries < 1 {
		return fmt.Errorf("loop.default_max_retries must be at least 1")
	}
	if c.Loop.DefaultPassThreshold < 0 || c.Loop.DefaultPassThreshold > 1 {
		return fmt.Errorf("loop.default_pass_threshold must be between 0 and 1")
	}
	if c.Loop.RootEntity == "" {
		return fmt.Errorf("loop.root_entity is required")
	}
	return nil
}

func (c *Config) definesCategory(name string) bool {
	if c.Models == nil {
		return false
	}
	_, ok := c.Models.Categories[name]
	return ok
}

// Registry builds the model category registry from the models section.
func (c *Config) Registry() *model.Registry {
	return model.FromConfig(c.Models)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadLayer reads a file onto a zero Config so Merge sees only the keys the
// file sets.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &layer, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	if other.LLM.Binding != "" {
		c.LLM.Binding = other.LLM.Binding
	}
	if other.LLM.CLI != "" {
		c.LLM.CLI = other.LLM.CLI
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Category != "" {
		c.LLM.Category = other.LLM.Category
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.OutputFormat != "" {
		c.LLM.OutputFormat = other.LLM.OutputFormat
	}
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Debug {
		c.LLM.Debug = true
	}
	if other.LLM.Retry.MaxAttempts != 0 {
		c.LLM.Retry.MaxAttempts = other.LLM.Retry.MaxAttempts
	}
	if other.LLM.Retry.BackoffBase != 0 {
		c.LLM.Retry.BackoffBase = other.LLM.Retry.BackoffBase
	}
	if other.LLM.Retry.BackoffMultiplier != 0 {
		c.LLM.Retry.BackoffMultiplier = other.LLM.Retry.BackoffMultiplier
	}
	if other.LLM.Retry.MaxBackoff != 0 {
		c.LLM.Retry.MaxBackoff = other.LLM.Retry.MaxBackoff
	}

	// Loop
	if other.Loop.MaxIterations != 0 {
		c.Loop.MaxIterations = other.Loop.MaxIterations
	}
	if other.Loop.DefaultMaxRetries != 0 {
		c.Loop.DefaultMaxRetries = other.Loop.DefaultMaxRetries
	}
	if other.Loop.DefaultPassThreshold != 0 {
		c.Loop.DefaultPassThreshold = other.Loop.DefaultPassThreshold
	}
	if other.Loop.Observations != 0 {
		c.Loop.Observations = other.Loop.Observations
	}
	if other.Loop.CommitHook {
		c.Loop.CommitHook = true
	}
	if other.Loop.RootEntity != "" {
		c.Loop.RootEntity = other.Loop.RootEntity
	}

	// Events
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.Subject != "" {
		c.Events.Subject = other.Events.Subject
	}

	// Metrics
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Workspace
	if len(other.Workspace.Ignore) > 0 {
		c.Workspace.Ignore = other.Workspace.Ignore
	}

	// Models: later layers override per category and per endpoint
	if other.Models != nil {
		if c.Models == nil {
			c.Models = &model.RegistryConfig{}
		}
		mergeModels(c.Models, other.Models)
	}
}

func mergeModels(dst, src *model.RegistryConfig) {
	if len(src.Categories) > 0 && dst.Categories == nil {
		dst.Categories = make(map[string]*model.CategoryConfig)
	}
	for name, cat := range src.Categories {
		dst.Categories[name] = cat
	}
	if len(src.Endpoints) > 0 && dst.Endpoints == nil {
		dst.Endpoints = make(map[string]*model.EndpointConfig)
	}
	for name, ep := range src.Endpoints {
		dst.Endpoints[name] = ep
	}
	if src.Defaults != nil {
		dst.Defaults = src.Defaults
	}
}
