package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/ontology"
)

type fakeTopology map[string][]string

func (f fakeTopology) Neighbors(kind string) []string { return f[kind] }

var (
	createReq  = ontology.Triple{Source: "PM", Verb: "creates", Target: "Req"}
	createSpec = ontology.Triple{Source: "Arch", Verb: "creates", Target: "Spec"}
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_PutGetHas(t *testing.T) {
	s := NewStore(nil, WithClock(fixedClock()))
	assert.False(t, s.Has("Req"))

	type req struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	rec, err := s.Put("Req", req{Title: "add", Count: 2}, createReq)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)
	assert.Equal(t, createReq, rec.Source)

	got, ok := s.Get("Req")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "add", "count": float64(2)}, got)

	rec, err = s.Put("Req", map[string]any{"title": "sub"}, createReq)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Revision)
	got, _ = s.Get("Req")
	assert.Equal(t, map[string]any{"title": "sub"}, got)
}

func TestStore_PutRejectsUnserializable(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Put("Req", map[string]any{"ch": make(chan int)}, createReq)
	require.Error(t, err)
	assert.False(t, s.Has("Req"))
}

func TestStore_PutDoesNotAliasCaller(t *testing.T) {
	s := NewStore(nil)
	value := map[string]any{"items": []any{"a"}}
	_, err := s.Put("Req", value, createReq)
	require.NoError(t, err)

	value["items"] = []any{"b"}
	got, _ := s.Get("Req")
	assert.Equal(t, map[string]any{"items": []any{"a"}}, got)
}

func TestStore_Append(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Append("Req", []any{map[string]any{"id": "1"}}, createReq)
	require.NoError(t, err)
	rec, err := s.Append("Req", map[string]any{"id": "2"}, createReq)
	require.NoError(t, err)

	assert.True(t, rec.IsCollection())
	assert.Equal(t, []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}, rec.Value)
	assert.Equal(t, 2, rec.Revision)
}

func TestStore_Related(t *testing.T) {
	topo := fakeTopology{"Spec": {"Glossary", "Req", "Tests"}}
	s := NewStore(topo)
	_, _ = s.Put("Tests", "t", createSpec)
	_, _ = s.Put("Req", "r", createReq)

	assert.Equal(t, []Entry{{Kind: "Req", Value: "r"}, {Kind: "Tests", Value: "t"}}, s.Related("Spec"))
	assert.Nil(t, NewStore(nil).Related("Spec"))
}

func TestStore_Verify(t *testing.T) {
	s := NewStore(nil, WithClock(fixedClock()))

	_, err := s.Verify("Spec", Verification{Score: 1})
	require.ErrorIs(t, err, ErrNotFound)

	_, _ = s.Put("Spec", "v1", createSpec)
	rec, err := s.Verify("Spec", Verification{Verifier: "QA", Score: 0.4, Threshold: 0.8})
	require.NoError(t, err)
	latest := rec.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Revision)
	assert.False(t, rec.Stale(latest))

	_, _ = s.Put("Spec", "v2", createSpec)
	rec, _ = s.Record("Spec")
	assert.True(t, rec.Stale(rec.Latest()), "verification goes stale once the artifact changes")
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	s := NewStore(nil, WithClock(fixedClock()))
	_, _ = s.Put("Req", []any{map[string]any{"title": "add"}}, createReq)
	_, _ = s.Put("DesignSpec", map[string]any{"summary": "calc"}, createSpec)
	_, _ = s.Verify("DesignSpec", Verification{Verifier: "QA", Verb: "verifies", Score: 0.9, Threshold: 0.8, Passed: true})

	require.NoError(t, s.Snapshot(dir))
	assert.FileExists(t, filepath.Join(dir, "req.json"))
	assert.FileExists(t, filepath.Join(dir, "design_spec.json"))
	assert.FileExists(t, filepath.Join(dir, ManifestFile))

	raw, err := os.ReadFile(filepath.Join(dir, "design_spec.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "calc"}`, string(raw))

	restored, err := LoadSnapshot(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Kinds(), restored.Kinds())
	for _, kind := range s.Kinds() {
		want, _ := s.Record(kind)
		got, _ := restored.Record(kind)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("record %s mismatch (-want +got):\n%s", kind, diff)
		}
	}
}

func TestLoadSnapshot_MissingDir(t *testing.T) {
	s, err := LoadSnapshot(filepath.Join(t.TempDir(), "none"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestWriteFileAtomic_LeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	require.NoError(t, WriteFileAtomic(path, []byte("1")))
	require.NoError(t, WriteFileAtomic(path, []byte("2")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "2", string(data))
}
