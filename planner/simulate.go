package planner

import (
	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/ontology"
)

// Simulation is the outcome of a dry run.
type Simulation struct {
	Steps   []Action
	Done    bool
	Pending []string
}

// Simulate runs the planner against synthetic artifacts: every creation or
// refinement yields a placeholder and every verification passes. It shows
// the order actions would run in and whether the ontology can finish.
func Simulate(g *ontology.Graph, maxSteps int) *Simulation {
	p := New(g)
	store := artifact.NewStore(g)
	ledger := NewLedger()
	_, _ = store.Put(g.Root(), map[string]any{"goal": "simulation"}, ontology.Triple{})

	sim := &Simulation{}
	for len(sim.Steps) < maxSteps {
		actions := p.Eligible(store, ledger)
		if len(actions) == 0 {
			break
		}
		a := actions[0]
		ledger.RecordAttempt(a.Triple)
		sim.Steps = append(sim.Steps, a)

		placeholder := map[string]any{"simulated": a.Triple.String()}
		switch a.Category {
		case ontology.Creation, ontology.Refinement:
			if a.Relation.Collection() {
				_, _ = store.Append(a.Target, placeholder, a.Triple)
			} else {
				_, _ = store.Put(a.Target, placeholder, a.Triple)
			}
		case ontology.Verification:
			_, _ = store.Verify(a.Target, artifact.Verification{
				Verifier:  a.Source,
				Verb:      a.Verb,
				Score:     1,
				Threshold: a.Relation.PassThreshold(),
				Passed:    true,
			})
		}
	}
	sim.Done = p.Done(store)
	sim.Pending = p.Pending(store)
	return sim
}
