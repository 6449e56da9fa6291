package loop

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/planner"
	"github.com/c360studio/icl/storage"
)

// History is the run state recovered from an execution log.
type History struct {
	Goal   string
	Store  *artifact.Store
	Ledger *planner.Ledger

	// Observations are the exhaustion notes, oldest first.
	Observations []string

	// Cycles is the number of cycles the run started.
	Cycles int

	// Outcome is the iteration_end outcome, empty when the log has none.
	Outcome string
}

// Replay rebuilds the store, the edge ledger and the observations from a
// log. Persisted events carry full values, so the log alone is enough.
func Replay(log []events.Event, topo artifact.Topology) (*History, error) {
	h := &History{
		Store:  artifact.NewStore(topo),
		Ledger: planner.NewLedger(),
	}
	for i, e := range log {
		switch e.Type {
		case events.IterationStart:
			h.Goal = e.String("goal")

		case events.LoopCycle:
			if n := e.Int("cycle"); n > h.Cycles {
				h.Cycles = n
			}

		case events.ActionDispatched:
			h.Ledger.RecordAttempt(e.TripleOf())

		case events.ArtifactPersisted:
			kind := e.String("kind")
			rec := &artifact.Record{
				Kind:      kind,
				Value:     e.Details["value"],
				Revision:  e.Int("revision"),
				CreatedAt: e.Timestamp,
				Source:    e.TripleOf(),
			}
			if prev, ok := h.Store.Record(kind); ok {
				rec.Verifications = prev.Verifications
			}
			if err := h.Store.Restore(rec); err != nil {
				return nil, fmt.Errorf("replay line %d: %w", i+1, err)
			}

		case events.VerificationResult:
			t := e.TripleOf()
			_, err := h.Store.Verify(t.Target, artifact.Verification{
				Verifier:  t.Source,
				Verb:      t.Verb,
				Score:     e.Float("score"),
				Feedback:  e.String("feedback"),
				Threshold: e.Float("threshold"),
				Passed:    e.Bool("passed"),
				At:        e.Timestamp,
			})
			if err != nil {
				return nil, fmt.Errorf("replay line %d: %w", i+1, err)
			}

		case events.Error:
			if e.String("kind") == string(failure.EdgeExhausted) {
				h.Ledger.MarkExhausted(e.TripleOf(), e.String("observation"))
				h.Observations = append(h.Observations, e.String("observation"))
			}

		case events.IterationEnd:
			h.Outcome = e.String("outcome")
		}
	}
	return h, nil
}

// Diff compares two stores kind by kind, ignoring timestamps. It returns an
// empty string when they hold the same artifacts.
func Diff(want, got *artifact.Store) string {
	return cmp.Diff(records(want), records(got),
		cmpopts.IgnoreFields(artifact.Record{}, "CreatedAt"),
		cmpopts.IgnoreFields(artifact.Verification{}, "At"),
		cmpopts.EquateEmpty(),
	)
}

func records(s *artifact.Store) map[string]artifact.Record {
	out := make(map[string]artifact.Record, s.Len())
	for _, kind := range s.Kinds() {
		rec, _ := s.Record(kind)
		out[kind] = *rec
	}
	return out
}

// Resume continues the runtime's iteration: artifacts come from the last
// snapshot, while edge attempts, exhausted edges, observations and the
// cycle count are rebuilt from the execution log.
func (r *Runtime) Resume(ctx context.Context) error {
	if r.state != Idle {
		return fmt.Errorf("runtime already started (state %s)", r.state)
	}
	if r.iteration == nil {
		return fmt.Errorf("resume needs an iteration")
	}
	if err := r.checkSchemas(); err != nil {
		return err
	}

	log, err := storage.ReadLog(r.iteration.LogPath())
	if err != nil {
		return failure.Wrap(failure.PersistenceError, err, "read log of %s", r.iteration.ID)
	}
	h, err := Replay(log, r.graph)
	if err != nil {
		return failure.Wrap(failure.PersistenceError, err, "replay %s", r.iteration.ID)
	}
	store, err := r.iteration.LoadArtifacts(r.graph)
	if err != nil {
		return failure.Wrap(failure.PersistenceError, err, "restore %s", r.iteration.ID)
	}
	if store.Len() == 0 && h.Store.Len() > 0 {
		r.logger.Warn("Artifact snapshot missing, using the log", "iteration", r.iteration.ID)
		store = h.Store
	}

	r.store = store
	r.ledger = h.Ledger
	r.cycles = h.Cycles
	for _, note := range h.Observations {
		r.observations.add(note)
	}
	if r.cfg.Goal == "" {
		r.cfg.Goal = h.Goal
	}

	if err := r.emit(ctx, events.IterationResumedAt(r.iteration.ID, r.cycles)); err != nil {
		return err
	}
	r.logger.Info("Iteration resumed", "iteration", r.iteration.ID, "cycles", r.cycles,
		"artifacts", r.store.Len(), "previous_outcome", h.Outcome)
	r.state = Planning
	return nil
}
