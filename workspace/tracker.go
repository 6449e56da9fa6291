// Package workspace tracks which files in the work dir change while an LLM
// subprocess runs.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Config configures a Tracker
type Config struct {
	// Root is the work dir to watch
	Root string

	// Ignore lists doublestar globs, relative to Root, that are never reported
	Ignore []string

	// Settle is how long the tracker waits for a quiet period before
	// reporting changes (default: 50ms)
	Settle time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Operation indicates the type of change
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Change is one path touched since Begin
type Change struct {
	// Path is relative to the root, slash-separated
	Path string `json:"path"`

	// Op is the most significant operation seen for the path
	Op Operation `json:"op"`
}

// Tracker records changes under a directory tree
type Tracker struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu        sync.Mutex
	pending   map[string]Operation
	lastEvent time.Time

	done chan struct{}
	stop context.CancelFunc
}

// NewTracker creates a tracker; Start begins watching.
func NewTracker(config Config) (*Tracker, error) {
	for _, pattern := range config.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Settle == 0 {
		config.Settle = 50 * time.Millisecond
	}

	return &Tracker{
		config:  config,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]Operation),
	}, nil
}

// Start adds watches for every non-ignored directory and begins collecting.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.addWatchesRecursive(t.config.Root); err != nil {
		t.watcher.Close()
		return err
	}

	ctx, t.stop = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.processEvents(ctx)

	t.logger.Debug("Workspace tracker started", "root", t.config.Root)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (t *Tracker) Close() error {
	if t.stop != nil {
		t.stop()
	}
	err := t.watcher.Close()
	if t.done != nil {
		<-t.done
	}
	return err
}

// Begin discards everything recorded so far.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = make(map[string]Operation)
}

// Collect waits for the tree to settle, then returns and clears the
// changes recorded since Begin, ordered by path.
func (t *Tracker) Collect() []Change {
	deadline := time.Now().Add(20 * t.config.Settle)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		quiet := time.Since(t.lastEvent)
		t.mu.Unlock()
		if quiet >= t.config.Settle {
			break
		}
		time.Sleep(t.config.Settle - quiet)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Change, 0, len(t.pending))
	for path, op := range t.pending {
		out = append(out, Change{Path: path, Op: op})
	}
	t.pending = make(map[string]Operation)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Ignored reports whether rel (slash-separated, relative to the root)
// matches an ignore pattern.
func (t *Tracker) Ignored(rel string) bool {
	for _, pattern := range t.config.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (t *Tracker) rel(path string) (string, bool) {
	rel, err := filepath.Rel(t.config.Root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// addWatchesRecursive adds watches to all directories
func (t *Tracker) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := t.rel(path); ok && rel != "." && t.Ignored(rel) {
			return filepath.SkipDir
		}
		if err := t.watcher.Add(path); err != nil {
			t.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (t *Tracker) processEvents(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleFSEvent(event)

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("Workspace watcher error", "error", err)
		}
	}
}

func (t *Tracker) handleFSEvent(event fsnotify.Event) {
	rel, ok := t.rel(event.Name)
	if !ok || t.Ignored(rel) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// files created before the watch lands are picked up by the walk
			if err := t.addWatchesRecursive(event.Name); err != nil {
				t.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			t.recordTree(event.Name)
			return
		}
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	default:
		return
	}
	t.record(rel, op)
}

// record merges op into the pending state: a create stays a create through
// later writes, and a create followed by a delete cancels out.
func (t *Tracker) record(rel string, op Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastEvent = time.Now()
	prev, seen := t.pending[rel]
	switch {
	case seen && prev == OpCreate && op == OpModify:
	case seen && prev == OpCreate && op == OpDelete:
		delete(t.pending, rel)
	case seen && prev == OpDelete && op == OpCreate:
		t.pending[rel] = OpModify
	default:
		t.pending[rel] = op
	}
}

// recordTree records every file under a newly created directory.
func (t *Tracker) recordTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := t.rel(path); ok && !t.Ignored(rel) {
			t.record(rel, OpCreate)
		}
		return nil
	})
}

// Paths returns the paths of changes.
func Paths(changes []Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}
	return out
}
