package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/events"
	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"
	"github.com/c360studio/icl/ontology"
	"github.com/c360studio/icl/planner"
	"github.com/c360studio/icl/prompts"
	"github.com/c360studio/icl/validation"
	"github.com/c360studio/icl/workspace"
)

// maxObservation caps the failure reason quoted in an observation.
const maxObservation = 300

// ---------------------------------------------------------------------------
// Planning
// ---------------------------------------------------------------------------

// plan picks the next action. Vetoed edges are skipped for the rest of the
// cycle; a new cycle consumes one unit of the iteration budget.
func (r *Runtime) plan(ctx context.Context) error {
	var eligible []planner.Action
	for _, a := range r.planner.Eligible(r.store, r.ledger) {
		if !r.vetoed[a.Triple] {
			eligible = append(eligible, a)
		}
	}

	if len(eligible) == 0 {
		if r.planner.Done(r.store) {
			r.state = Done
			return nil
		}
		if len(r.vetoed) > 0 {
			return failure.New(failure.Stuck, "every eligible action was declined").
				WithHint("accept at least one action, or run with --yolo")
		}
		return r.stuck()
	}

	if !r.inCycle {
		if r.cycles >= r.cfg.MaxIterations {
			if r.planner.Done(r.store) {
				r.state = Done
				return nil
			}
			return failure.New(failure.BudgetExhausted, "iteration budget of %d cycle(s) spent", r.cfg.MaxIterations).
				WithHint("raise --max-iterations or loop.max_iterations and resume")
		}
		r.cycles++
		r.inCycle = true
		r.metrics.Cycle()
		if err := r.emit(ctx, events.Cycle(r.cycles)); err != nil {
			return err
		}
	}

	a := eligible[0]
	if err := r.emit(ctx, events.Identified(a.Triple, a.Category, len(eligible))); err != nil {
		return err
	}

	if r.cfg.Confirm {
		ok, err := r.ui.Confirm(ctx, fmt.Sprintf("Run %s %s %s?", a.Source, a.Verb, a.Target))
		if err != nil {
			return err
		}
		if !ok {
			r.vetoed[a.Triple] = true
			r.metrics.ActionSkipped(string(a.Category))
			r.logger.Info("Action declined", "edge", a.Triple.String())
			return r.emit(ctx, events.Skipped(a.Triple))
		}
	}

	r.act = &activation{action: a, round: 1}
	r.state = Dispatching
	return nil
}

func (r *Runtime) stuck() error {
	var spent []string
	for _, s := range r.ledger.States() {
		rel, ok := r.graph.Relation(s.Triple)
		if s.Exhausted || (ok && !r.ledger.CanDispatch(rel)) {
			spent = append(spent, s.Triple.String())
		}
	}
	msg := "no eligible actions and the work is not done"
	if pending := r.planner.Pending(r.store); len(pending) > 0 {
		msg += "; missing " + strings.Join(pending, ", ")
	}
	hint := "check that every artifact has a creator the ontology can reach"
	if len(spent) > 0 {
		hint = "edges out of budget: " + strings.Join(spent, "; ") + " (raise their loop.maxRetries)"
	}
	return failure.New(failure.Stuck, "%s", msg).WithHint(hint)
}

// ---------------------------------------------------------------------------
// Dispatching
// ---------------------------------------------------------------------------

// dispatch prompts the agent. The first round of a cycle counts against the
// edge budget; refinement rounds do not.
func (r *Runtime) dispatch(ctx context.Context) error {
	a := r.act.action
	if r.act.round == 1 {
		attempt := r.ledger.RecordAttempt(a.Triple)
		r.metrics.ActionDispatched(string(a.Category))
		if err := r.emit(ctx, events.Dispatched(a.Triple, a.Category, attempt)); err != nil {
			return err
		}
		r.ui.LogInfo(fmt.Sprintf("%s %s %s (attempt %d/%d)", a.Source, a.Verb, a.Target, attempt, a.Relation.MaxRetries()))
		if r.tracker != nil {
			r.tracker.Begin()
		}
	}

	params := r.assembler.Params(a.Relation, r.store, r.cfg.Goal, r.observations.list())
	params.Feedback = r.act.failure
	prompt := prompts.Assemble(params)
	if err := r.emit(ctx, events.Prompted(a.Triple, r.act.round, prompt)); err != nil {
		return err
	}

	r.logger.Debug("Prompting agent", "edge", a.Triple.String(), "round", r.act.round, "prompt_length", len(prompt))
	raw, err := r.client.Prompt(ctx, prompt, r.options(a.Source))
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		if failure.KindOf(err) == "" {
			err = failure.Wrap(failure.LLMUnavailable, err, "prompt %s", a.Source)
		}
		return err
	}

	r.act.raw = raw
	if err := r.emit(ctx, events.Responded(a.Triple, r.act.round, raw)); err != nil {
		return err
	}
	r.state = Parsing
	return nil
}

// ---------------------------------------------------------------------------
// Parsing and validation
// ---------------------------------------------------------------------------

func (r *Runtime) parse(_ context.Context) error {
	value, err := llm.ParseResponse(r.act.raw, r.shape(r.act.action))
	if err != nil {
		r.reject(err.Error())
		return nil
	}
	r.act.value = value
	r.state = Validating
	return nil
}

// shape is the reply shape an action expects: verdicts are objects, other
// replies follow the target schema's top-level type.
func (r *Runtime) shape(a planner.Action) llm.Shape {
	if a.Category == ontology.Verification {
		return llm.ShapeObject
	}
	s, ok := r.graph.SchemaFor(a.Target)
	switch {
	case !ok:
		return llm.ShapeAny
	case s.ExpectsArray():
		return llm.ShapeArray
	case a.Relation.Collection():
		return llm.ShapeAny
	default:
		return llm.ShapeObject
	}
}

func (r *Runtime) validate(ctx context.Context) error {
	a := r.act.action

	var err error
	if a.Category == ontology.Verification {
		r.act.score, r.act.comment, err = r.validator.Verification(r.act.value)
	} else {
		err = r.validator.Validate(a.Target, r.act.value)
	}
	if failure.Is(err, failure.OntologyInvalid) {
		return err
	}
	if err != nil {
		msgs := validation.Messages(err)
		r.metrics.ValidationFailure(a.Target)
		if err := r.emit(ctx, events.Validated(a.Triple, r.act.round, false, msgs)); err != nil {
			return err
		}
		r.reject("schema validation failed:\n- " + strings.Join(msgs, "\n- "))
		return nil
	}

	if err := r.emit(ctx, events.Validated(a.Triple, r.act.round, true, nil)); err != nil {
		return err
	}
	r.state = Persisting
	return nil
}

// reject records why the round failed and hands the cycle to Refining.
func (r *Runtime) reject(reason string) {
	r.act.failure = &prompts.Feedback{
		Attempt: r.act.round,
		Reason:  reason,
		Raw:     r.act.raw,
	}
	r.act.value = nil
	r.state = Refining
}

// ---------------------------------------------------------------------------
// Refining
// ---------------------------------------------------------------------------

// refine starts another round with the failure fed back, or exhausts the
// edge once its rounds are spent.
func (r *Runtime) refine(ctx context.Context) error {
	a := r.act.action
	if r.act.round >= a.Relation.MaxRetries() {
		return r.exhaust(ctx)
	}
	r.act.round++
	r.metrics.Refinement()
	r.logger.Debug("Refining reply", "edge", a.Triple.String(), "round", r.act.round)
	if err := r.emit(ctx, events.Refining(a.Triple, r.act.round, excerpt(r.act.failure.Reason, maxObservation))); err != nil {
		return err
	}
	r.state = Dispatching
	return nil
}

func (r *Runtime) exhaust(ctx context.Context) error {
	a := r.act.action
	reason := r.act.failure.Reason
	r.ledger.MarkExhausted(a.Triple, reason)
	r.metrics.EdgeExhausted()

	note := fmt.Sprintf("%s %s %s failed after %d round(s): %s",
		a.Source, a.Verb, a.Target, r.act.round, excerpt(reason, maxObservation))
	r.observations.add(note)

	r.logger.Warn("Edge exhausted", "edge", a.Triple.String(), "rounds", r.act.round, "reason", firstLine(reason))
	r.ui.LogError(note)
	if err := r.emit(ctx, events.Exhausted(a.Triple, r.act.round, note)); err != nil {
		return err
	}
	return r.endCycle(ctx, false)
}

// ---------------------------------------------------------------------------
// Persisting
// ---------------------------------------------------------------------------

func (r *Runtime) persist(ctx context.Context) error {
	a := r.act.action

	if a.Category == ontology.Verification {
		threshold := a.Relation.PassThreshold()
		rec, err := r.store.Verify(a.Target, artifact.Verification{
			Verifier:  a.Source,
			Verb:      a.Verb,
			Score:     r.act.score,
			Feedback:  r.act.comment,
			Threshold: threshold,
			Passed:    r.act.score >= threshold,
		})
		if err != nil {
			return failure.Wrap(failure.PersistenceError, err, "record verification of %s", a.Target)
		}
		e := events.Verified(a.Triple, r.act.score, threshold, r.act.comment, rec.Revision)
		if err := r.emit(ctx, e); err != nil {
			return err
		}
		r.ui.LogInfo(e.Message)
		return r.endCycle(ctx, false)
	}

	put := r.store.Put
	if a.Relation.Collection() {
		put = r.store.Append
	}
	rec, err := put(a.Target, r.act.value, a.Triple)
	if err != nil {
		return failure.Wrap(failure.PersistenceError, err, "store %s", a.Target)
	}
	r.metrics.ArtifactPersisted(a.Target)
	if err := r.emit(ctx, events.Persisted(a.Triple, a.Target, rec.Revision, rec.Value)); err != nil {
		return err
	}
	r.ui.RenderArtifact(a.Target, rec.Value)
	return r.endCycle(ctx, true)
}

// endCycle closes the cycle at a boundary: the store is snapshotted, work-dir
// changes are reported and, after a persisted artifact, the commit hook runs.
func (r *Runtime) endCycle(ctx context.Context, persisted bool) error {
	a := r.act.action
	r.snapshot(ctx)

	if r.tracker != nil {
		if changes := r.tracker.Collect(); len(changes) > 0 {
			if err := r.emit(ctx, events.Note(
				fmt.Sprintf("%d file(s) changed in the work dir", len(changes)),
				map[string]any{"agent": a.Source, "target": a.Target, "paths": workspace.Paths(changes)},
			)); err != nil {
				return err
			}
		}
	}

	if persisted && r.cfg.CommitHook {
		if err := r.commit(ctx, a); err != nil {
			return err
		}
	}

	r.act = nil
	r.inCycle = false
	clear(r.vetoed)
	r.state = Planning
	return nil
}

// commit asks the agent to stage and commit the work dir. Its outcome never
// affects the run; only a failed log append does.
func (r *Runtime) commit(ctx context.Context, a planner.Action) error {
	prompt := prompts.CommitPrompt(a.Triple, a.Target)
	if err := r.emit(ctx, events.Note("Commit hook for "+a.Target,
		map[string]any{"agent": a.Source, "target": a.Target, "prompt": prompt})); err != nil {
		return err
	}
	if _, err := r.client.Prompt(ctx, prompt, r.options(a.Source)); err != nil {
		r.logger.Warn("Commit hook failed", "target", a.Target, "error", err)
		return r.emit(ctx, events.Note("Commit hook failed for "+a.Target,
			map[string]any{"agent": a.Source, "target": a.Target, "error": err.Error()}))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return prompts.Truncate(s, n) + "..."
}
