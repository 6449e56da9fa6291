package events

import (
	"fmt"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/ontology"
)

// Outcomes recorded by IterationEnded.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

func triple(t ontology.Triple, extra map[string]any) map[string]any {
	d := map[string]any{
		"agent":    t.Source,
		"relation": t.Verb,
		"target":   t.Target,
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

// TripleOf reads the agent/relation/target details back into a triple.
func (e Event) TripleOf() ontology.Triple {
	return ontology.Triple{Source: e.String("agent"), Verb: e.String("relation"), Target: e.String("target")}
}

func IterationStarted(id, name, goal string) Event {
	return New(IterationStart, LevelInfo, fmt.Sprintf("Started iteration: %s (%s)", name, id),
		map[string]any{"iteration_id": id, "name": name, "goal": goal})
}

func IterationResumedAt(id string, cycle int) Event {
	return New(IterationResumed, LevelInfo, fmt.Sprintf("Resumed iteration: %s", id),
		map[string]any{"iteration_id": id, "cycle": cycle})
}

// IterationEnded closes the log. kind is empty for a successful run.
func IterationEnded(outcome string, kind failure.Kind, cycles int, message string) Event {
	level := LevelInfo
	if outcome == OutcomeFailed {
		level = LevelError
	}
	d := map[string]any{"outcome": outcome, "cycles": cycles}
	if kind != "" {
		d["kind"] = string(kind)
	}
	return New(IterationEnd, level, message, d)
}

func Cycle(n int) Event {
	return New(LoopCycle, LevelInfo, fmt.Sprintf("Loop cycle %d", n), map[string]any{"cycle": n})
}

func Identified(t ontology.Triple, category ontology.Category, eligible int) Event {
	return New(ActionIdentified, LevelInfo, fmt.Sprintf("%s %s %s", t.Source, t.Verb, t.Target),
		triple(t, map[string]any{"category": string(category), "eligible": eligible}))
}

func Dispatched(t ontology.Triple, category ontology.Category, attempt int) Event {
	return New(ActionDispatched, LevelInfo, fmt.Sprintf("Dispatching: %s %s %s", t.Source, t.Verb, t.Target),
		triple(t, map[string]any{"category": string(category), "attempt": attempt}))
}

func Skipped(t ontology.Triple) Event {
	return New(ActionSkipped, LevelInfo, fmt.Sprintf("Skipped by user: %s %s %s", t.Source, t.Verb, t.Target),
		triple(t, nil))
}

// Prompted records the full prompt of one round of a cycle.
func Prompted(t ontology.Triple, round int, prompt string) Event {
	return New(PromptSent, LevelDebug, fmt.Sprintf("Prompt sent to %s for %s", t.Source, t.Target),
		triple(t, map[string]any{"round": round, "prompt": prompt, "prompt_length": len(prompt)}))
}

func Responded(t ontology.Triple, round int, raw string) Event {
	return New(ResponseReceived, LevelDebug, fmt.Sprintf("Response from %s for %s", t.Source, t.Target),
		triple(t, map[string]any{"round": round, "response": raw, "response_length": len(raw)}))
}

// Persisted carries the full stored value so the store can be rebuilt from
// the log alone.
func Persisted(t ontology.Triple, kind string, revision int, value any) Event {
	return New(ArtifactPersisted, LevelInfo, fmt.Sprintf("Persisted %s (revision %d)", kind, revision),
		triple(t, map[string]any{"kind": kind, "revision": revision, "value": value}))
}

func Validated(t ontology.Triple, round int, passed bool, messages []string) Event {
	level, msg := LevelInfo, fmt.Sprintf("Validation passed for %s", t.Target)
	d := map[string]any{"round": round, "passed": passed}
	if !passed {
		level, msg = LevelWarn, fmt.Sprintf("Validation failed for %s", t.Target)
		d["errors"] = messages
	}
	return New(ValidationResult, level, msg, triple(t, d))
}

func Verified(t ontology.Triple, score, threshold float64, feedback string, revision int) Event {
	passed := score >= threshold
	level, verdict := LevelInfo, "passed"
	if !passed {
		level, verdict = LevelWarn, "failed"
	}
	return New(VerificationResult, level,
		fmt.Sprintf("Verification %s for %s (score: %.2f, threshold: %.2f)", verdict, t.Target, score, threshold),
		triple(t, map[string]any{
			"score":     score,
			"threshold": threshold,
			"passed":    passed,
			"feedback":  feedback,
			"revision":  revision,
		}))
}

func Refining(t ontology.Triple, round int, reason string) Event {
	return New(RefinementAttempt, LevelWarn, fmt.Sprintf("Refinement round %d for %s: %s", round, t.Target, reason),
		triple(t, map[string]any{"round": round, "reason": reason}))
}

// Exhausted records an edge taken out of planning. The observation is the
// note fed to later prompts.
func Exhausted(t ontology.Triple, attempts int, observation string) Event {
	return New(Error, LevelWarn, fmt.Sprintf("Edge exhausted: %s", t),
		triple(t, map[string]any{
			"kind":        string(failure.EdgeExhausted),
			"attempts":    attempts,
			"observation": observation,
		}))
}

// Failed records an error. The kind names the failure class.
func Failed(kind failure.Kind, message string, details map[string]any) Event {
	d := map[string]any{"kind": string(kind)}
	for k, v := range details {
		d[k] = v
	}
	return New(Error, LevelError, message, d)
}

func Note(message string, details map[string]any) Event {
	return New(Info, LevelInfo, message, details)
}
