package planner

import (
	"sort"
	"time"

	"github.com/c360studio/icl/ontology"
)

// EdgeState tracks dispatches of one edge across a run.
type EdgeState struct {
	Triple      ontology.Triple `json:"triple"`
	Attempts    int             `json:"attempts"`
	Exhausted   bool            `json:"exhausted"`
	LastAttempt time.Time       `json:"last_attempt"`
	LastError   string          `json:"last_error,omitempty"`
}

// Ledger counts edge activations. An edge's counter moves once per cycle no
// matter how many refinement rounds that cycle needed.
type Ledger struct {
	states map[ontology.Triple]*EdgeState
	now    func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		states: make(map[ontology.Triple]*EdgeState),
		now:    time.Now,
	}
}

func (l *Ledger) state(t ontology.Triple) *EdgeState {
	s, ok := l.states[t]
	if !ok {
		s = &EdgeState{Triple: t}
		l.states[t] = s
	}
	return s
}

// RecordAttempt counts one dispatch and returns the new total.
func (l *Ledger) RecordAttempt(t ontology.Triple) int {
	s := l.state(t)
	s.Attempts++
	s.LastAttempt = l.now()
	return s.Attempts
}

// MarkExhausted takes an edge out of planning for the rest of the run.
func (l *Ledger) MarkExhausted(t ontology.Triple, reason string) {
	s := l.state(t)
	s.Exhausted = true
	s.LastError = reason
}

// Attempts returns the dispatch count of an edge.
func (l *Ledger) Attempts(t ontology.Triple) int {
	if s, ok := l.states[t]; ok {
		return s.Attempts
	}
	return 0
}

// Exhausted reports whether an edge was marked exhausted.
func (l *Ledger) Exhausted(t ontology.Triple) bool {
	s, ok := l.states[t]
	return ok && s.Exhausted
}

// CanDispatch reports whether an edge still has budget.
func (l *Ledger) CanDispatch(r *ontology.Relation) bool {
	return !l.Exhausted(r.Triple) && l.Attempts(r.Triple) < r.MaxRetries()
}

// States returns a copy of every tracked edge, ordered by triple.
func (l *Ledger) States() []EdgeState {
	out := make([]EdgeState, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Triple.Less(out[j].Triple) })
	return out
}
