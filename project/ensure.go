package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/c360studio/icl/storage"
)

// Option configures Ensure.
type Option func(*ensureOptions)

type ensureOptions struct {
	appName    string
	docsFolder string
	logger     *slog.Logger
}

// WithAppName sets the name used when icl.json is created. The default is
// the base name of the work dir.
func WithAppName(name string) Option {
	return func(o *ensureOptions) { o.appName = name }
}

// WithDocsFolder sets the docs folder used when icl.json is created.
func WithDocsFolder(folder string) Option {
	return func(o *ensureOptions) { o.docsFolder = folder }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *ensureOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// legacyApp is the pre-icl.json app.json.
type legacyApp struct {
	AppID   string `json:"app_id"`
	AppName string `json:"app_name"`
}

// legacyConfig is the pre-icl.json config.json.
type legacyConfig struct {
	DocsFolder string `json:"docs_folder"`
}

// Ensure prepares a work dir for a run. When icl.json is missing it is
// created, merging the legacy app.json and config.json when present; the
// legacy files are removed only after icl.json is in place. The iterations
// directory and the docs folder are created if needed.
func Ensure(workDir string, opts ...Option) (*Config, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	o := ensureOptions{
		appName:    filepath.Base(abs),
		docsFolder: DefaultDocsFolder,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := Load(workDir)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg, err = create(workDir, o)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(Dir(workDir), storage.IterationsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create iterations dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workDir, cfg.DocsFolder), 0o755); err != nil {
		return nil, fmt.Errorf("create docs folder: %w", err)
	}
	return cfg, nil
}

func create(workDir string, o ensureOptions) (*Config, error) {
	cfg := &Config{
		Version:    Version,
		AppID:      uuid.New().String(),
		AppName:    o.appName,
		DocsFolder: o.docsFolder,
	}

	appPath := filepath.Join(Dir(workDir), LegacyAppFile)
	configPath := filepath.Join(Dir(workDir), LegacyConfigFile)

	var legacy []string
	var app legacyApp
	if ok, err := readLegacy(appPath, &app); err != nil {
		o.logger.Warn("Ignoring unreadable legacy file", "file", appPath, "error", err)
	} else if ok {
		legacy = append(legacy, appPath)
		if app.AppID != "" {
			cfg.AppID = app.AppID
		}
		if app.AppName != "" {
			cfg.AppName = app.AppName
		}
	}
	var conf legacyConfig
	if ok, err := readLegacy(configPath, &conf); err != nil {
		o.logger.Warn("Ignoring unreadable legacy file", "file", configPath, "error", err)
	} else if ok {
		legacy = append(legacy, configPath)
		if conf.DocsFolder != "" {
			cfg.DocsFolder = conf.DocsFolder
		}
	}

	if err := Save(workDir, cfg); err != nil {
		return nil, err
	}
	for _, path := range legacy {
		if err := os.Remove(path); err != nil {
			o.logger.Warn("Failed to remove legacy file", "file", path, "error", err)
		}
	}
	if len(legacy) > 0 {
		o.logger.Info("Migrated legacy project files", "app_name", cfg.AppName, "files", len(legacy))
	} else {
		o.logger.Info("Created project", "app_name", cfg.AppName, "app_id", cfg.AppID)
	}
	return cfg, nil
}

// readLegacy decodes path into v. It reports false when the file is absent.
func readLegacy(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Project is a discovered work dir.
type Project struct {
	Dir    string
	Config *Config

	// Legacy marks projects that still carry app.json instead of icl.json.
	Legacy bool
}

// Discover returns the projects in base and its direct subdirectories,
// sorted by app name. Projects that were never migrated are reported from
// their app.json.
func Discover(base string) ([]Project, error) {
	candidates := []string{base}
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", base, err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != storage.DirName {
			candidates = append(candidates, filepath.Join(base, e.Name()))
		}
	}

	var out []Project
	for _, dir := range candidates {
		p, ok, err := loadProject(dir)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Config.AppName < out[j].Config.AppName })
	return out, nil
}

func loadProject(dir string) (Project, bool, error) {
	cfg, err := Load(dir)
	if err == nil {
		return Project{Dir: dir, Config: cfg}, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Project{}, false, fmt.Errorf("project %s: %w", dir, err)
	}

	var app legacyApp
	ok, err := readLegacy(filepath.Join(Dir(dir), LegacyAppFile), &app)
	if err != nil || !ok {
		return Project{}, false, nil
	}
	cfg = &Config{
		Version:    "0.0.0",
		AppID:      orUnknown(app.AppID),
		AppName:    orUnknown(app.AppName),
		DocsFolder: DefaultDocsFolder,
	}
	return Project{Dir: dir, Config: cfg, Legacy: true}, true, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
