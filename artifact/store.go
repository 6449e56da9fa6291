// Package artifact holds the values agents produce, keyed by entity kind.
//
// The store is owned by a single driver goroutine and does no locking.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/c360studio/icl/ontology"
)

// ErrNotFound is returned when a kind has no artifact.
var ErrNotFound = errors.New("artifact not found")

// Verification is a score attached to an artifact by a Verification action.
type Verification struct {
	Verifier  string    `json:"verifier"`
	Verb      string    `json:"verb"`
	Score     float64   `json:"score"`
	Feedback  string    `json:"feedback,omitempty"`
	Threshold float64   `json:"threshold"`
	Passed    bool      `json:"passed"`
	Revision  int       `json:"revision"`
	At        time.Time `json:"at"`
}

// Record is a stored artifact with its provenance.
type Record struct {
	Kind      string          `json:"kind"`
	Value     any             `json:"-"`
	Revision  int             `json:"revision"`
	CreatedAt time.Time       `json:"created_at"`
	Source    ontology.Triple `json:"source"`

	Verifications []Verification `json:"verifications,omitempty"`
}

// Latest returns the most recent verification, or nil.
func (r *Record) Latest() *Verification {
	if r == nil || len(r.Verifications) == 0 {
		return nil
	}
	return &r.Verifications[len(r.Verifications)-1]
}

// Stale reports whether v was issued against an older revision.
func (r *Record) Stale(v *Verification) bool {
	return v != nil && v.Revision < r.Revision
}

// IsCollection reports whether the stored value is an array.
func (r *Record) IsCollection() bool {
	_, ok := r.Value.([]any)
	return ok
}

// Topology supplies the edges used by Related.
type Topology interface {
	Neighbors(kind string) []string
}

// Entry is one element of a Related result.
type Entry struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// Store maps entity kinds to artifacts.
type Store struct {
	topo    Topology
	records map[string]*Record
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. topo may be nil, in which case Related
// always returns nothing.
func NewStore(topo Topology, opts ...Option) *Store {
	s := &Store{
		topo:    topo,
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put replaces the artifact for kind. The value is normalized to a plain
// JSON tree so later reads never alias caller memory.
func (s *Store) Put(kind string, value any, source ontology.Triple) (*Record, error) {
	norm, err := Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", kind, err)
	}
	rec, ok := s.records[kind]
	if !ok {
		rec = &Record{Kind: kind}
		s.records[kind] = rec
	}
	rec.Value = norm
	rec.Revision++
	rec.CreatedAt = s.now().UTC()
	rec.Source = source
	return rec, nil
}

// Append adds value to an array-valued kind, creating it when absent. An
// array value contributes each of its elements.
func (s *Store) Append(kind string, value any, source ontology.Triple) (*Record, error) {
	norm, err := Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", kind, err)
	}
	var list []any
	if rec, ok := s.records[kind]; ok {
		switch existing := rec.Value.(type) {
		case []any:
			list = append(list, existing...)
		default:
			list = append(list, existing)
		}
	}
	if items, ok := norm.([]any); ok {
		list = append(list, items...)
	} else {
		list = append(list, norm)
	}
	return s.Put(kind, list, source)
}

// Get returns the value stored for kind.
func (s *Store) Get(kind string) (any, bool) {
	rec, ok := s.records[kind]
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// Record returns the full record for kind.
func (s *Store) Record(kind string) (*Record, bool) {
	rec, ok := s.records[kind]
	return rec, ok
}

// Has reports whether kind has an artifact.
func (s *Store) Has(kind string) bool {
	_, ok := s.records[kind]
	return ok
}

// Kinds returns every stored kind in alphabetical order.
func (s *Store) Kinds() []string {
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of stored kinds.
func (s *Store) Len() int { return len(s.records) }

// Related returns the artifacts of every non-agent kind connected to kind,
// alphabetically. Kinds without an artifact are omitted.
func (s *Store) Related(kind string) []Entry {
	if s.topo == nil {
		return nil
	}
	var out []Entry
	for _, n := range s.topo.Neighbors(kind) {
		if rec, ok := s.records[n]; ok {
			out = append(out, Entry{Kind: n, Value: rec.Value})
		}
	}
	return out
}

// Verify annotates the current revision of kind with a verification result.
func (s *Store) Verify(kind string, v Verification) (*Record, error) {
	rec, ok := s.records[kind]
	if !ok {
		return nil, fmt.Errorf("verify %s: %w", kind, ErrNotFound)
	}
	v.Revision = rec.Revision
	if v.At.IsZero() {
		v.At = s.now().UTC()
	}
	rec.Verifications = append(rec.Verifications, v)
	return rec, nil
}

// Restore installs a record verbatim, as read from a snapshot or a log replay.
func (s *Store) Restore(rec *Record) error {
	norm, err := Normalize(rec.Value)
	if err != nil {
		return fmt.Errorf("restore %s: %w", rec.Kind, err)
	}
	cp := *rec
	cp.Value = norm
	cp.Verifications = append([]Verification(nil), rec.Verifications...)
	s.records[rec.Kind] = &cp
	return nil
}

// Normalize converts v to the tree encoding/json produces for it:
// map[string]any, []any, float64, string, bool or nil.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
