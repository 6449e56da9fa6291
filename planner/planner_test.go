package planner

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/ontology"
)

const reviewedOntology = `[
  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}},
  {"source": {"name": "Arch"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Spec"}},
  {"source": {"name": "Req"}, "type": {"name": "informs", "verbType": "Dependency"}, "target": {"name": "Spec"}},
  {"source": {"name": "QA"}, "type": {"name": "verifies", "verbType": "Verification"}, "target": {"name": "Spec"}, "loop": {"passThreshold": 0.8}},
  {"source": {"name": "Arch"}, "type": {"name": "refines", "verbType": "Refinement"}, "target": {"name": "Spec"}}
]`

var (
	createReq  = ontology.Triple{Source: "PM", Verb: "creates", Target: "Req"}
	createSpec = ontology.Triple{Source: "Arch", Verb: "creates", Target: "Spec"}
	verifySpec = ontology.Triple{Source: "QA", Verb: "verifies", Target: "Spec"}
	refineSpec = ontology.Triple{Source: "Arch", Verb: "refines", Target: "Spec"}
)

func load(t *testing.T, doc string) *ontology.Graph {
	t.Helper()
	g, _, err := ontology.Parse([]byte(doc), "")
	require.NoError(t, err)
	return g
}

func triples(actions []Action) []ontology.Triple {
	out := make([]ontology.Triple, len(actions))
	for i, a := range actions {
		out[i] = a.Triple
	}
	return out
}

func verify(t *testing.T, store *artifact.Store, score float64) {
	t.Helper()
	_, err := store.Verify("Spec", artifact.Verification{
		Verifier: "QA", Verb: "verifies", Score: score, Threshold: 0.8, Passed: score >= 0.8,
	})
	require.NoError(t, err)
}

func TestPlanner_CreateVerifyRefineCycle(t *testing.T) {
	g := load(t, reviewedOntology)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()

	assert.Equal(t, []ontology.Triple{createReq}, triples(p.Eligible(store, ledger)),
		"Spec waits for its Req prerequisite")
	assert.False(t, p.Done(store))

	_, _ = store.Put("Req", []any{"add"}, createReq)
	assert.Equal(t, []ontology.Triple{createSpec}, triples(p.Eligible(store, ledger)))

	_, _ = store.Put("Spec", map[string]any{"v": 1}, createSpec)
	assert.Equal(t, []ontology.Triple{verifySpec}, triples(p.Eligible(store, ledger)))
	assert.False(t, p.Done(store), "Spec is not verified yet")

	ledger.RecordAttempt(verifySpec)
	verify(t, store, 0.4)
	assert.Equal(t, []ontology.Triple{refineSpec}, triples(p.Eligible(store, ledger)),
		"a failing verdict re-opens refinement and waits for it")

	_, _ = store.Put("Spec", map[string]any{"v": 2}, refineSpec)
	assert.Equal(t, []ontology.Triple{verifySpec}, triples(p.Eligible(store, ledger)),
		"the refined revision needs a fresh verdict")

	ledger.RecordAttempt(verifySpec)
	verify(t, store, 0.9)
	assert.Empty(t, p.Eligible(store, ledger))
	assert.True(t, p.Done(store))
}

func TestPlanner_PassedThenDroppedReopensRefinement(t *testing.T) {
	g := load(t, reviewedOntology)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()
	_, _ = store.Put("Req", "r", createReq)
	_, _ = store.Put("Spec", "s", createSpec)

	verify(t, store, 0.9)
	assert.True(t, p.Done(store))

	verify(t, store, 0.3)
	assert.False(t, p.Done(store))
	assert.Equal(t, []ontology.Triple{refineSpec}, triples(p.Eligible(store, ledger)))
}

func TestPlanner_FailedVerificationWithoutRefinerRetries(t *testing.T) {
	g := load(t, `[
	  {"source": {"name": "Arch"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Spec"}},
	  {"source": {"name": "QA"}, "type": {"name": "verifies", "verbType": "Verification"}, "target": {"name": "Spec"}}
	]`)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()
	_, _ = store.Put("Spec", "s", createSpec)
	verify(t, store, 0.1)

	assert.Equal(t, []ontology.Triple{verifySpec}, triples(p.Eligible(store, ledger)))

	for i := 0; i < ontology.DefaultMaxRetries; i++ {
		ledger.RecordAttempt(verifySpec)
	}
	assert.Empty(t, p.Eligible(store, ledger))
	assert.False(t, p.Done(store), "no eligible action and unmet done-condition means stuck")
}

func TestPlanner_RefinerExhaustedFallsBackToReverification(t *testing.T) {
	g := load(t, reviewedOntology)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()
	_, _ = store.Put("Req", "r", createReq)
	_, _ = store.Put("Spec", "s", createSpec)
	verify(t, store, 0.2)

	ledger.MarkExhausted(refineSpec, "malformed")
	assert.Equal(t, []ontology.Triple{verifySpec}, triples(p.Eligible(store, ledger)))
}

func TestPlanner_EdgeBudget(t *testing.T) {
	g := load(t, `[
	  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}, "loop": {"maxRetries": 2}}
	]`)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()

	ledger.RecordAttempt(createReq)
	assert.Len(t, p.Eligible(store, ledger), 1)
	ledger.RecordAttempt(createReq)
	assert.Empty(t, p.Eligible(store, ledger))
	assert.Equal(t, []string{"Req"}, p.Pending(store))

	ledger2 := NewLedger()
	ledger2.MarkExhausted(createReq, "parse error")
	assert.Empty(t, p.Eligible(store, ledger2))
}

func TestPlanner_Ordering(t *testing.T) {
	g := load(t, `[
	  {"source": {"name": "Zed"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Base"}},
	  {"source": {"name": "Amy"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Derived"}},
	  {"source": {"name": "Bob"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Base2"}},
	  {"source": {"name": "Base"}, "type": {"name": "feeds", "verbType": "Dependency"}, "target": {"name": "Derived"}},
	  {"source": {"name": "Rev"}, "type": {"name": "verifies", "verbType": "Verification"}, "target": {"name": "Done"}},
	  {"source": {"name": "Amy"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Done"}}
	]`)
	p := New(g)
	store := artifact.NewStore(g)
	_, _ = store.Put("Base", "b", ontology.Triple{})
	_, _ = store.Put("Done", "d", ontology.Triple{})

	got := p.Eligible(store, NewLedger())
	assert.Equal(t, []ontology.Triple{
		{Source: "Bob", Verb: "creates", Target: "Base2"},
		{Source: "Amy", Verb: "creates", Target: "Derived"},
		{Source: "Rev", Verb: "verifies", Target: "Done"},
	}, triples(got))
	assert.Equal(t, 0, got[0].Depth)
	assert.Equal(t, 1, got[1].Depth)
}

func TestPlanner_CollectionCreationStaysEligible(t *testing.T) {
	g := load(t, `[
	  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Story"}, "loop": {"maxRetries": 2, "mode": "collection"}}
	]`)
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()
	story := ontology.Triple{Source: "PM", Verb: "creates", Target: "Story"}

	ledger.RecordAttempt(story)
	_, _ = store.Append("Story", map[string]any{"id": 1}, story)
	assert.Len(t, p.Eligible(store, ledger), 1)

	ledger.RecordAttempt(story)
	assert.Empty(t, p.Eligible(store, ledger))
	assert.True(t, p.Done(store))
}

func TestPlanner_RootIsPresentForPrerequisites(t *testing.T) {
	g := load(t, `[
	  {"source": {"name": "SoftwareApplication", "type": "Artifact"}, "type": {"name": "frames", "verbType": "Dependency"}, "target": {"name": "Req"}},
	  {"source": {"name": "PM"}, "type": {"name": "creates", "verbType": "Creation"}, "target": {"name": "Req"}}
	]`)
	p := New(g)
	got := p.Eligible(artifact.NewStore(g), NewLedger())
	assert.Equal(t, []ontology.Triple{createReq}, triples(got))
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, 1, l.RecordAttempt(createReq))
	assert.Equal(t, 2, l.RecordAttempt(createReq))
	l.RecordAttempt(createSpec)
	l.MarkExhausted(createSpec, "bad json")

	states := l.States()
	require.Len(t, states, 2)
	assert.Equal(t, createSpec, states[0].Triple)
	assert.True(t, states[0].Exhausted)
	assert.Equal(t, "bad json", states[0].LastError)
	assert.Equal(t, 2, states[1].Attempts)
}

func TestSimulate(t *testing.T) {
	g := load(t, reviewedOntology)
	sim := Simulate(g, 50)

	assert.True(t, sim.Done)
	assert.Empty(t, sim.Pending)
	assert.Equal(t, []ontology.Triple{createReq, createSpec, verifySpec}, triples(sim.Steps))
}

func TestPlanner_LogsPlannedActions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	g := load(t, reviewedOntology)
	p := New(g, WithLogger(logger))
	store := artifact.NewStore(g)

	p.Eligible(store, NewLedger())
	assert.Contains(t, buf.String(), "Planned actions")
	assert.Contains(t, buf.String(), "eligible=1")
	assert.Contains(t, buf.String(), "category=Creation")

	buf.Reset()
	_, err := store.Put("Req", []any{"add"}, createReq)
	require.NoError(t, err)
	_, err = store.Put("Spec", map[string]any{"ops": 1}, createSpec)
	require.NoError(t, err)
	assert.False(t, p.Done(store))
	assert.Contains(t, buf.String(), "Work not done")
	assert.Contains(t, buf.String(), "kind=Spec")
}

func TestWithLogger_NilKeepsDefault(t *testing.T) {
	p := New(load(t, reviewedOntology), WithLogger(nil))
	assert.NotNil(t, p.logger)
}
