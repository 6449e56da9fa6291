// Package storage lays out iterations on disk under
// <work_dir>/.infinitecodingloop/iterations/<id>/.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/icl/artifact"
)

// Layout names.
const (
	DirName       = ".infinitecodingloop"
	IterationsDir = "iterations"
	IterationFile = "iteration.json"
	LogsDir       = "logs"
	LogFile       = "execution.jsonl"
	ArtifactsDir  = "artifacts"
)

// idTimeFormat prefixes every iteration id; ids sort chronologically.
const idTimeFormat = "20060102T150405Z"

// Iteration is the metadata in iteration.json.
type Iteration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`

	dir string
}

// Dir is the iteration directory.
func (it *Iteration) Dir() string { return it.dir }

// LogPath is the execution log file.
func (it *Iteration) LogPath() string { return filepath.Join(it.dir, LogsDir, LogFile) }

// ArtifactsPath is the artifact snapshot directory.
func (it *Iteration) ArtifactsPath() string { return filepath.Join(it.dir, ArtifactsDir) }

// Log opens the iteration's execution log for appending.
func (it *Iteration) Log() *Log { return NewLog(it.LogPath()) }

// SaveArtifacts snapshots store into the artifacts directory.
func (it *Iteration) SaveArtifacts(store *artifact.Store) error {
	if err := store.Snapshot(it.ArtifactsPath()); err != nil {
		return fmt.Errorf("save artifacts of %s: %w", it.ID, err)
	}
	return nil
}

// LoadArtifacts restores the last snapshot. A missing snapshot yields an
// empty store.
func (it *Iteration) LoadArtifacts(topo artifact.Topology) (*artifact.Store, error) {
	s, err := artifact.LoadSnapshot(it.ArtifactsPath(), topo)
	if err != nil {
		return nil, fmt.Errorf("load artifacts of %s: %w", it.ID, err)
	}
	return s, nil
}

// Store manages the iterations of one project.
type Store struct {
	root   string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store for the project rooted at workDir.
func NewStore(workDir string, opts ...Option) *Store {
	s := &Store{
		root:   filepath.Join(workDir, DirName, IterationsDir),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the iterations directory.
func (s *Store) Root() string { return s.root }

// Create allocates a new iteration directory with its logs and artifacts
// subdirectories and writes iteration.json. Ids are
// <UTC timestamp>_<sequence>, the sequence counting every iteration so far.
func (s *Store) Create(name string) (*Iteration, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create iterations dir: %w", err)
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read iterations dir: %w", err)
	}

	ts := s.now().UTC().Truncate(time.Second)
	seq := len(entries) + 1
	var dir, id string
	for {
		id = fmt.Sprintf("%s_%04d", ts.Format(idTimeFormat), seq)
		dir = filepath.Join(s.root, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create iteration %s: %w", id, err)
		}
		seq++
	}

	it := &Iteration{ID: id, Name: name, Timestamp: ts, dir: dir}
	for _, sub := range []string{LogsDir, ArtifactsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s/%s: %w", id, sub, err)
		}
	}
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode iteration: %w", err)
	}
	if err := artifact.WriteFileAtomic(filepath.Join(dir, IterationFile), append(data, '\n')); err != nil {
		return nil, err
	}
	s.logger.Debug("Created iteration", "id", id, "name", name)
	return it, nil
}

// Get opens an existing iteration.
func (s *Store) Get(id string) (*Iteration, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := filepath.Join(s.root, id)
	data, err := os.ReadFile(filepath.Join(dir, IterationFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read iteration %s: %w", id, err)
	}
	var it Iteration
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("decode iteration %s: %w", id, err)
	}
	it.dir = dir
	return &it, nil
}

// Latest returns the newest iteration.
func (s *Store) Latest() (*Iteration, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return all[0], nil
}

// List returns every iteration, newest first. Directories without a
// readable iteration.json are skipped.
func (s *Store) List() ([]*Iteration, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read iterations dir: %w", err)
	}

	var out []*Iteration
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		it, err := s.Get(e.Name())
		if err != nil {
			s.logger.Debug("Skipping iteration directory", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
