// Package planner decides which (agent, verb, target) action runs next.
//
// Planning is a pure function of the ontology graph, the artifact store and
// the edge ledger. It never mutates either; the runtime applies results.
package planner

import (
	"log/slog"
	"sort"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/ontology"
)

// Action is one dispatchable edge activation.
type Action struct {
	ontology.Triple
	Category ontology.Category
	Relation *ontology.Relation
	Depth    int
}

// Planner enumerates eligible actions over a fixed graph.
type Planner struct {
	graph  *ontology.Graph
	logger *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a planner for g.
func New(g *ontology.Graph, opts ...Option) *Planner {
	p := &Planner{graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Eligible returns every action that may run now, ordered by category
// priority (Creation, Verification, Refinement), then shallower target
// depth, then triple.
func (p *Planner) Eligible(store *artifact.Store, ledger *Ledger) []Action {
	var out []Action
	for _, r := range p.graph.Relations() {
		if p.eligible(r, store, ledger) {
			out = append(out, Action{
				Triple:   r.Triple,
				Category: r.Category,
				Relation: r,
				Depth:    p.graph.Depth(r.Target),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := a.Category.Priority(), b.Category.Priority(); pa != pb {
			return pa < pb
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.Triple.Less(b.Triple)
	})
	if len(out) > 0 {
		p.logger.Debug("Planned actions", "eligible", len(out), "next", out[0].Triple.String(), "category", string(out[0].Category))
	} else {
		p.logger.Debug("No eligible actions", "pending", p.Pending(store))
	}
	return out
}

func (p *Planner) eligible(r *ontology.Relation, store *artifact.Store, ledger *Ledger) bool {
	if !p.graph.Dispatchable(r) || !ledger.CanDispatch(r) {
		return false
	}
	if !p.prerequisitesMet(r.Target, store) {
		return false
	}

	rec, present := store.Record(r.Target)
	switch r.Category {
	case ontology.Creation:
		return !present || r.Collection()
	case ontology.Verification:
		if !present {
			return false
		}
		v := LatestBy(rec, r.Triple)
		switch {
		case v == nil, rec.Stale(v):
			return true
		case !v.Passed:
			return !p.refinementAvailable(r.Target, store, ledger)
		default:
			return false
		}
	case ontology.Refinement:
		return present && Failing(rec)
	}
	return false
}

func (p *Planner) prerequisitesMet(target string, store *artifact.Store) bool {
	for _, pre := range p.graph.Prerequisites(target) {
		if !p.graph.IsRoot(pre) && !store.Has(pre) {
			return false
		}
	}
	return true
}

func (p *Planner) refinementAvailable(target string, store *artifact.Store, ledger *Ledger) bool {
	for _, r := range p.graph.IncomingOf(target, ontology.Refinement) {
		if p.graph.Dispatchable(r) && ledger.CanDispatch(r) && p.prerequisitesMet(target, store) {
			return true
		}
	}
	return false
}

// Done reports whether the work is complete: every kind an agent creates is
// present, and every present kind is verified above threshold at its current
// revision by each of its verifiers. The root is exempt.
func (p *Planner) Done(store *artifact.Store) bool {
	for _, kind := range p.graph.CreationTargets() {
		if !p.graph.IsRoot(kind) && !store.Has(kind) {
			return false
		}
	}
	for _, kind := range store.Kinds() {
		if p.graph.IsRoot(kind) {
			continue
		}
		rec, _ := store.Record(kind)
		for _, r := range p.graph.IncomingOf(kind, ontology.Verification) {
			if !p.graph.Dispatchable(r) {
				continue
			}
			v := LatestBy(rec, r.Triple)
			if v == nil || rec.Stale(v) || !v.Passed {
				p.logger.Debug("Work not done", "kind", kind, "edge", r.Triple.String())
				return false
			}
		}
	}
	return true
}

// Pending lists the creation targets not yet present, for diagnostics.
func (p *Planner) Pending(store *artifact.Store) []string {
	var out []string
	for _, kind := range p.graph.CreationTargets() {
		if !p.graph.IsRoot(kind) && !store.Has(kind) {
			out = append(out, kind)
		}
	}
	return out
}

// LatestBy returns the most recent verification issued through edge t.
func LatestBy(rec *artifact.Record, t ontology.Triple) *artifact.Verification {
	for i := len(rec.Verifications) - 1; i >= 0; i-- {
		v := &rec.Verifications[i]
		if v.Verifier == t.Source && v.Verb == t.Verb {
			return v
		}
	}
	return nil
}

// Failing reports whether any verifier's latest verdict on the current
// revision is below its threshold.
func Failing(rec *artifact.Record) bool {
	seen := make(map[[2]string]bool)
	for i := len(rec.Verifications) - 1; i >= 0; i-- {
		v := &rec.Verifications[i]
		key := [2]string{v.Verifier, v.Verb}
		if seen[key] {
			continue
		}
		seen[key] = true
		if !rec.Stale(v) && !v.Passed {
			return true
		}
	}
	return false
}
