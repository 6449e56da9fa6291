package prompts

import (
	"log/slog"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/ontology"
)

// Assembler gathers prompt inputs from the graph and the artifact store.
type Assembler struct {
	graph  *ontology.Graph
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler creates an assembler over g.
func NewAssembler(g *ontology.Graph, opts ...Option) *Assembler {
	a := &Assembler{graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Params collects everything needed to prompt for one edge activation.
func (a *Assembler) Params(r *ontology.Relation, store *artifact.Store, goal string, observations []string) Params {
	p := Params{
		Triple:       r.Triple,
		Category:     r.Category,
		Goal:         goal,
		Related:      store.Related(r.Target),
		Observations: observations,
	}
	if sp, ok := a.graph.SystemPrompt(r.Source); ok {
		p.SystemPrompt = sp
	}
	template := "fallback"
	if tmpl, ok := a.graph.Template(r.Triple); ok {
		p.Template = tmpl
		template = "edge"
	}
	if s, ok := a.graph.SchemaFor(r.Target); ok {
		p.Schema = s.Raw
		p.ExpectArray = s.ExpectsArray()
	}
	if v, ok := store.Get(r.Source); ok {
		p.Source = v
	}
	if rec, ok := store.Record(r.Target); ok {
		p.Target = rec.Value
		if r.Category == ontology.Refinement {
			p.Review = failingReview(rec)
		}
	}
	a.logger.Debug("Assembled prompt inputs",
		"edge", r.Triple.String(),
		"template", template,
		"related", len(p.Related),
		"observations", len(observations))
	return p
}

// failingReview returns the newest verdict on the current revision that did not pass.
func failingReview(rec *artifact.Record) *artifact.Verification {
	for i := len(rec.Verifications) - 1; i >= 0; i-- {
		v := rec.Verifications[i]
		if !rec.Stale(&v) && !v.Passed {
			return &v
		}
	}
	return nil
}
