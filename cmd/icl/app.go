package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/icl/config"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/interaction"
	"github.com/c360studio/icl/llm"
	"github.com/c360studio/icl/metrics"
	"github.com/c360studio/icl/model"
	"github.com/c360studio/icl/ontology"
	"github.com/c360studio/icl/project"
	"github.com/c360studio/icl/storage"
)

// httpEndpoint names the endpoint built from llm.endpoint when the http
// binding is selected without a models section.
const httpEndpoint = "configured-http"

// App holds everything a command resolves before it does its work.
type App struct {
	env     *env
	cfg     *config.Config
	workDir string
	project *project.Config
	logger  *slog.Logger
}

// NewApp resolves the work dir, loads the layered config and makes sure the
// project layout exists.
func NewApp(e *env, g *globalOptions) (*App, error) {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	absWorkDir, err := filepath.Abs(g.workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	info, err := os.Stat(absWorkDir)
	if err != nil {
		return nil, fmt.Errorf("stat work dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absWorkDir)
	}

	loader := config.NewLoader(logger)
	loader.UserPath = e.userConfig
	cfg, err := loader.Load(absWorkDir, g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	proj, err := project.Ensure(absWorkDir, project.WithLogger(logger))
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceError, err, "prepare project")
	}
	logger.Debug("Project ready", "app_name", proj.AppName, "app_id", proj.AppID, "work_dir", absWorkDir)

	return &App{
		env:     e,
		cfg:     cfg,
		workDir: absWorkDir,
		project: proj,
		logger:  logger,
	}, nil
}

// Iterations returns the store of the project's iterations.
func (a *App) Iterations() *storage.Store {
	return storage.NewStore(a.workDir, storage.WithLogger(a.logger))
}

// Iteration opens an iteration by id; "latest" picks the newest one.
func (a *App) Iteration(id string) (*storage.Iteration, error) {
	store := a.Iterations()
	if id == "" || id == "latest" {
		it, err := store.Latest()
		if err != nil {
			return nil, fmt.Errorf("find latest iteration: %w", err)
		}
		return it, nil
	}
	it, err := store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("open iteration %s: %w", id, err)
	}
	return it, nil
}

// OntologyPath returns the explicit path, or the single ontology.json found
// under the work dir. Several candidates are offered through the UI.
func (a *App) OntologyPath(ctx context.Context, explicit string, ui interaction.UI) (string, error) {
	if explicit != "" {
		if filepath.IsAbs(explicit) {
			return explicit, nil
		}
		return filepath.Join(a.workDir, explicit), nil
	}

	found, err := ontology.Discover(a.workDir)
	if err != nil {
		return "", failure.Wrap(failure.OntologyInvalid, err, "find ontology")
	}
	switch len(found) {
	case 0:
		return "", failure.New(failure.OntologyInvalid, "no %s under %s", ontology.FileName, a.workDir).
			WithHint("Pass --ontology or add an ontology.json to the project.")
	case 1:
		return found[0], nil
	}

	if ui == nil {
		ui = interaction.NewAutoUI("", a.logger)
	}
	options := make([]string, len(found))
	for i, p := range found {
		options[i] = a.rel(p)
	}
	idx, err := ui.Select(ctx, "Several ontologies found; which one should drive this run?", options)
	if err != nil {
		return "", fmt.Errorf("select ontology: %w", err)
	}
	if idx < 0 || idx >= len(found) {
		return "", fmt.Errorf("select ontology: choice %d out of range", idx)
	}
	a.logger.Info("Using ontology", "path", options[idx], "candidates", len(found))
	return found[idx], nil
}

// LoadOntology loads a document with the configured root and loop defaults
// and logs its warnings.
func (a *App) LoadOntology(path string) (*ontology.Graph, *ontology.Report, error) {
	return loadOntology(a.cfg, path, a.logger)
}

func loadOntology(cfg *config.Config, path string, logger *slog.Logger) (*ontology.Graph, *ontology.Report, error) {
	g, report, err := ontology.Load(path,
		ontology.WithRoot(cfg.Loop.RootEntity),
		ontology.WithLoopDefaults(cfg.Loop.DefaultMaxRetries, cfg.Loop.DefaultPassThreshold),
		ontology.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range report.Warnings {
		logger.Warn("Ontology warning", "path", path, "warning", w)
	}
	return g, report, nil
}

// Client builds the LLM client: a router over the cli and http bindings,
// walking the category chains of the model registry.
func (a *App) Client(ui interaction.UI, m *metrics.Metrics) llm.Client {
	if a.env.client != nil {
		return a.env.client
	}

	opts := []llm.Option{
		llm.WithWorkDir(a.workDir),
		llm.WithDefaultCLI(a.cfg.LLM.CLI),
		llm.WithOutputFormat(a.cfg.LLM.OutputFormat),
		llm.WithDebug(a.cfg.LLM.Debug),
		llm.WithTimeout(a.cfg.LLM.Timeout),
		llm.WithRetryConfig(a.cfg.LLM.Retry),
		llm.WithStderr(ui.Progress),
		llm.WithLogger(a.logger),
		llm.WithMetrics(m),
	}

	registry := a.cfg.Registry()
	if a.cfg.LLM.Binding == config.BindingHTTP && a.cfg.Models == nil {
		registry.SetEndpoint(httpEndpoint, &model.EndpointConfig{
			Binding:  model.BindingHTTP,
			Provider: a.cfg.LLM.Provider,
			URL:      a.cfg.LLM.Endpoint,
			Model:    a.cfg.LLM.Model,
		})
		for _, cat := range registry.ListCategories() {
			registry.SetCategory(cat, &model.CategoryConfig{Preferred: []string{httpEndpoint}})
		}
		registry.SetDefault(httpEndpoint)
	}

	return llm.NewRouter(registry, map[string]llm.Client{
		model.BindingCLI:  llm.NewCLIClient(opts...),
		model.BindingHTTP: llm.NewHTTPClient(opts...),
	}, a.logger)
}

// rel shortens a path under the work dir for display.
func (a *App) rel(path string) string {
	if r, err := filepath.Rel(a.workDir, path); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}
	return path
}
