package loop

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/ontology"
	"github.com/c360studio/icl/storage"
	"github.com/c360studio/icl/workspace"
)

const calculatorOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}},
  {"source": {"name": "Arch"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Spec"}},
  {"source": {"name": "Req"}, "type": {"name": "informs", "verbType": "Dependency"}, "target": {"name": "Spec"}}
]`

const tightReqOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}, "loop": {"maxRetries": 2}},
  {"source": {"name": "Arch"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Spec"}},
  {"source": {"name": "Req"}, "type": {"name": "informs", "verbType": "Dependency"}, "target": {"name": "Spec"}}
]`

const reviewedOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}},
  {"source": {"name": "Arch"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Spec"}},
  {"source": {"name": "Req"}, "type": {"name": "informs", "verbType": "Dependency"}, "target": {"name": "Spec"}},
  {"source": {"name": "QA"}, "type": {"name": "verifies", "verbType": "Verification"}, "target": {"name": "Spec"}, "loop": {"passThreshold": 0.8}},
  {"source": {"name": "Arch"}, "type": {"name": "refines", "verbType": "Refinement"}, "target": {"name": "Spec"}}
]`

// Two independent creators, the first with a single round.
const siblingsOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}, "loop": {"maxRetries": 1}},
  {"source": {"name": "Writer"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Notes"}}
]`

// A single creator that keeps appending requirements.
const collectingOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}, "loop": {"mode": "collection"}}
]`

const reqSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "text"],
    "properties": {"id": {"type": "string"}, "text": {"type": "string"}}
  }
}`

const specSchema = `{
  "type": "object",
  "required": ["components"],
  "properties": {"components": {"type": "array", "items": {"type": "string"}}}
}`

const (
	reqReply    = "Here you go:\n```json\n[{\"id\": \"R1\", \"text\": \"add two numbers\"}]\n```"
	specReply   = "```json\n{\"components\": [\"parser\", \"evaluator\"]}\n```"
	specV2Reply = "```json\n{\"components\": [\"parser\", \"evaluator\", \"history\"]}\n```"
	notesReply  = "```json\n{\"text\": \"remember the history\"}\n```"
	malformed   = "I think the requirements are to add numbers"
)

var (
	createReq  = ontology.Triple{Source: "PM", Verb: "creates", Target: "Req"}
	createSpec = ontology.Triple{Source: "Arch", Verb: "creates", Target: "Spec"}
	verifySpec = ontology.Triple{Source: "QA", Verb: "verifies", Target: "Spec"}
	refineSpec = ontology.Triple{Source: "Arch", Verb: "refines", Target: "Spec"}
)

func verdict(score float64, feedback string) string {
	return "```json\n{\"score\": " + strconv.FormatFloat(score, 'f', -1, 64) +
		", \"feedback\": \"" + feedback + "\"}\n```"
}

var epoch = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadOntology writes doc and the Req/Spec schemas into a temp dir and loads it.
func loadOntology(t *testing.T, doc string) *ontology.Graph {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		ontology.FileName:                  doc,
		"artifact/schema/req.schema.json":  reqSchema,
		"artifact/schema/spec.schema.json": specSchema,
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	g, _, err := ontology.Load(filepath.Join(dir, ontology.FileName), ontology.WithLogger(quietLogger()))
	require.NoError(t, err)
	return g
}

func newIteration(t *testing.T) *storage.Iteration {
	t.Helper()
	s := storage.NewStore(t.TempDir(), storage.WithClock(func() time.Time { return epoch }))
	it, err := s.Create("calculator")
	require.NoError(t, err)
	return it
}

func readLog(t *testing.T, it *storage.Iteration) []events.Event {
	t.Helper()
	log, err := storage.ReadLog(it.LogPath())
	require.NoError(t, err)
	require.NotEmpty(t, log)
	return log
}

func ofKind(log []events.Event, kind events.Kind, t ontology.Triple) []events.Event {
	var out []events.Event
	for _, e := range log {
		if e.Type == kind && e.TripleOf() == t {
			out = append(out, e)
		}
	}
	return out
}

func countType(log []events.Event, kind events.Kind) int {
	n := 0
	for _, e := range log {
		if e.Type == kind {
			n++
		}
	}
	return n
}

// fakeTracker reports a fixed set of changes on every Collect.
type fakeTracker struct {
	changes []workspace.Change
	begins  int
}

func (f *fakeTracker) Begin() { f.begins++ }

func (f *fakeTracker) Collect() []workspace.Change { return f.changes }
