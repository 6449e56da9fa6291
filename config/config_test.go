package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/icl/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.Binding != "cli" {
		t.Errorf("expected default binding cli, got %s", cfg.LLM.Binding)
	}
	if cfg.LLM.CLI != "gemini" {
		t.Errorf("expected default cli gemini, got %s", cfg.LLM.CLI)
	}
	if cfg.LLM.Category != "Daily Driver" {
		t.Errorf("expected default category Daily Driver, got %s", cfg.LLM.Category)
	}
	if cfg.LLM.Timeout != 10*time.Minute {
		t.Errorf("expected default timeout 10m, got %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 3 || cfg.LLM.Retry.BackoffBase != 2*time.Second {
		t.Errorf("unexpected retry defaults %+v", cfg.LLM.Retry)
	}
	if cfg.Loop.MaxIterations != 100 {
		t.Errorf("expected max_iterations 100, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.DefaultMaxRetries != 3 || cfg.Loop.DefaultPassThreshold != 0.8 {
		t.Errorf("unexpected loop defaults %+v", cfg.Loop)
	}
	if cfg.Loop.RootEntity != "SoftwareApplication" {
		t.Errorf("expected root SoftwareApplication, got %s", cfg.Loop.RootEntity)
	}
	if cfg.Events.NATSURL != "" {
		t.Error("expected NATS mirror disabled by default")
	}
	if len(cfg.Workspace.Ignore) != 5 {
		t.Errorf("expected 5 ignore globs, got %d", len(cfg.Workspace.Ignore))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown binding",
			modify:  func(c *Config) { c.LLM.Binding = "grpc" },
			wantErr: true,
		},
		{
			name:    "missing cli",
			modify:  func(c *Config) { c.LLM.CLI = "" },
			wantErr: true,
		},
		{
			name:    "http without endpoint",
			modify:  func(c *Config) { c.LLM.Binding = "http" },
			wantErr: true,
		},
		{
			name: "http with endpoint",
			modify: func(c *Config) {
				c.LLM.Binding = "http"
				c.LLM.Endpoint = "http://localhost:11434"
			},
			wantErr: false,
		},
		{
			name:    "unknown category",
			modify:  func(c *Config) { c.LLM.Category = "Weekend Warrior" },
			wantErr: true,
		},
		{
			name:    "category spelled loosely",
			modify:  func(c *Config) { c.LLM.Category = "high-reasoning" },
			wantErr: false,
		},
		{
			name:    "zero budget",
			modify:  func(c *Config) { c.Loop.MaxIterations = 0 },
			wantErr: true,
		},
		{
			name:    "threshold too high",
			modify:  func(c *Config) { c.Loop.DefaultPassThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "missing root",
			modify:  func(c *Config) { c.Loop.RootEntity = "" },
			wantErr: true,
		},
		{
			name:    "zero retry attempts",
			modify:  func(c *Config) { c.LLM.Retry.MaxAttempts = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "icl.yaml")

	content := `
llm:
  cli: "claude"
  model: "gemini-2.5-pro"
  timeout: 2m
  retry:
    max_attempts: 5
    backoff_base: 1s
loop:
  max_iterations: 25
  commit_hook: true
events:
  nats_url: "nats://test:4222"
workspace:
  ignore:
    - "vendor/**"
models:
  categories:
    High Reasoning:
      preferred: [local-big]
  endpoints:
    local-big:
      binding: http
      provider: ollama
      url: http://localhost:11434
      model: qwen2.5-coder:32b
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.LLM.CLI != "claude" {
		t.Errorf("expected cli claude, got %s", cfg.LLM.CLI)
	}
	if cfg.LLM.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.LLM.Timeout)
	}
	if cfg.LLM.Retry.MaxAttempts != 5 || cfg.LLM.Retry.BackoffBase != time.Second {
		t.Errorf("unexpected retry %+v", cfg.LLM.Retry)
	}
	// unset keys keep their defaults
	if cfg.LLM.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("expected max_backoff default, got %v", cfg.LLM.Retry.MaxBackoff)
	}
	if cfg.Loop.MaxIterations != 25 || !cfg.Loop.CommitHook {
		t.Errorf("unexpected loop %+v", cfg.Loop)
	}
	if cfg.Events.NATSURL != "nats://test:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.Events.NATSURL)
	}
	if len(cfg.Workspace.Ignore) != 1 {
		t.Errorf("expected 1 ignore glob, got %d", len(cfg.Workspace.Ignore))
	}

	reg := cfg.Registry()
	chain := reg.FallbackChain(model.CategoryHighReasoning)
	if len(chain) == 0 || chain[0] != "local-big" {
		t.Errorf("expected local-big first in High Reasoning chain, got %v", chain)
	}
	ep := reg.Endpoint("local-big")
	if ep == nil || ep.BindingName() != "http" {
		t.Errorf("expected http endpoint, got %+v", ep)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		LLM: LLMConfig{
			Model: "override-model",
		},
		Loop: LoopConfig{
			MaxIterations: 7,
		},
	}

	base.Merge(override)

	if base.LLM.Model != "override-model" {
		t.Errorf("expected model override-model, got %s", base.LLM.Model)
	}
	// CLI should remain from base since override didn't set it
	if base.LLM.CLI != "gemini" {
		t.Errorf("expected cli to remain default, got %s", base.LLM.CLI)
	}
	if base.Loop.MaxIterations != 7 {
		t.Errorf("expected max_iterations 7, got %d", base.Loop.MaxIterations)
	}
	if base.Loop.Observations != 10 {
		t.Errorf("expected observations to remain default, got %d", base.Loop.Observations)
	}
}

func TestConfigMergeModels(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{Models: &model.RegistryConfig{
		Endpoints: map[string]*model.EndpointConfig{"a": {Model: "m-a"}},
	}})
	base.Merge(&Config{Models: &model.RegistryConfig{
		Endpoints: map[string]*model.EndpointConfig{"b": {Model: "m-b"}},
		Defaults:  &model.DefaultsConfig{Endpoint: "b"},
	}})

	if len(base.Models.Endpoints) != 2 {
		t.Errorf("expected both endpoints kept, got %v", base.Models.Endpoints)
	}
	if base.Models.Defaults == nil || base.Models.Defaults.Endpoint != "b" {
		t.Errorf("expected default endpoint b, got %+v", base.Models.Defaults)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.LLM.Model != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.LLM.Model)
	}
	if loaded.LLM.Timeout != cfg.LLM.Timeout {
		t.Errorf("timeout did not round-trip: %v", loaded.LLM.Timeout)
	}
}

func TestLoaderLayers(t *testing.T) {
	root := t.TempDir()
	userPath := filepath.Join(root, "user", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(userPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userPath, []byte("llm:\n  cli: claude\nloop:\n  max_iterations: 50\n"), 0644); err != nil {
		t.Fatal(err)
	}

	project := filepath.Join(root, "project")
	nested := filepath.Join(project, "src", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ProjectConfigFile), []byte("loop:\n  observations: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(nil)
	l.UserPath = userPath
	cfg, err := l.Load(nested, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.CLI != "claude" {
		t.Errorf("expected user layer cli claude, got %s", cfg.LLM.CLI)
	}
	// the project layer does not reset keys it leaves unset
	if cfg.Loop.MaxIterations != 50 {
		t.Errorf("expected user layer max_iterations 50, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.Observations != 3 {
		t.Errorf("expected project layer observations 3, got %d", cfg.Loop.Observations)
	}
}

func TestLoaderExplicitPath(t *testing.T) {
	root := t.TempDir()
	l := NewLoader(nil)
	l.UserPath = filepath.Join(root, "absent.yaml")

	if _, err := l.Load(root, filepath.Join(root, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}

	explicit := filepath.Join(root, "custom.yaml")
	if err := os.WriteFile(explicit, []byte("loop:\n  max_iterations: 0\n  root_entity: App\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := l.Load(root, explicit)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.RootEntity != "App" {
		t.Errorf("expected root App, got %s", cfg.Loop.RootEntity)
	}
}

func TestLoaderRejectsInvalidResult(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ProjectConfigFile), []byte("llm:\n  binding: carrier-pigeon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(nil)
	l.UserPath = filepath.Join(root, "absent.yaml")
	if _, err := l.Load(root, ""); err == nil {
		t.Error("expected validation error")
	}
}

func TestEnsureUserConfig(t *testing.T) {
	root := t.TempDir()
	l := NewLoader(nil)
	l.UserPath = filepath.Join(root, "icl", "config.yaml")

	path, created, err := l.EnsureUserConfig()
	if err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	if path != l.UserPath || !created {
		t.Errorf("EnsureUserConfig() = %q, %v; want %q, true", path, created, l.UserPath)
	}
	if _, err := os.Stat(l.UserPath); err != nil {
		t.Fatalf("user config not created: %v", err)
	}
	if _, created, err := l.EnsureUserConfig(); err != nil || created {
		t.Errorf("second EnsureUserConfig() = %v, %v; want false, nil", created, err)
	}
}

func TestEnsureProjectConfig_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, ProjectConfigFile)
	if err := os.WriteFile(existing, []byte("loop:\n  max_iterations: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(nil)
	if _, created, err := l.EnsureProjectConfig(dir); err != nil || created {
		t.Fatalf("EnsureProjectConfig() = %v, %v; want false, nil", created, err)
	}
	cfg, err := l.Load(dir, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Errorf("existing project config was overwritten, max_iterations = %d", cfg.Loop.MaxIterations)
	}
}
