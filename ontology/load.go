package ontology

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360studio/icl/failure"
)

// MissingCreatorHint is shown when an artifact has no agent producing it.
const MissingCreatorHint = "Add 'creates', 'implements', or 'defines' relationships from an Agent."

// Report collects non-fatal findings from a load.
type Report struct {
	Warnings []string
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Option configures Load and Parse.
type Option func(*loader)

type loader struct {
	root                 string
	defaultMaxRetries    int
	defaultPassThreshold float64
	logger               *slog.Logger
}

// WithRoot overrides the implicit root entity name.
func WithRoot(name string) Option {
	return func(l *loader) {
		if name != "" {
			l.root = name
		}
	}
}

// WithLoopDefaults sets the budget applied to edges without loop config.
func WithLoopDefaults(maxRetries int, passThreshold float64) Option {
	return func(l *loader) {
		if maxRetries > 0 {
			l.defaultMaxRetries = maxRetries
		}
		if passThreshold > 0 {
			l.defaultPassThreshold = passThreshold
		}
	}
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Load reads the ontology document at path and resolves its assets relative
// to the document's directory.
func Load(path string, opts ...Option) (*Graph, *Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, failure.Wrap(failure.OntologyInvalid, err, "read ontology")
	}
	return Parse(data, filepath.Dir(path), opts...)
}

// Parse builds a graph from document bytes, resolving assets under baseDir.
// An empty baseDir skips asset resolution.
func Parse(data []byte, baseDir string, opts ...Option) (*Graph, *Report, error) {
	l := &loader{
		root:                 DefaultRoot,
		defaultMaxRetries:    DefaultMaxRetries,
		defaultPassThreshold: DefaultPassThreshold,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, nil, err
	}

	g := newGraph(l.root, baseDir)
	if err := l.build(g, doc); err != nil {
		return nil, nil, err
	}

	if baseDir != "" {
		if err := loadSchemas(baseDir, g.schemas); err != nil {
			return nil, nil, err
		}
		prompts, err := readMarkdown(baseDir, PromptGlob)
		if err != nil {
			return nil, nil, fmt.Errorf("load prompt templates: %w", err)
		}
		g.bindTemplates(prompts)
		system, err := readMarkdown(baseDir, SystemPromptGlob)
		if err != nil {
			return nil, nil, fmt.Errorf("load system prompts: %w", err)
		}
		g.bindSystemPrompts(system)
	}

	inferClasses(g)
	g.precomputeDepths()

	report := &Report{}
	if err := validateTopology(g, report); err != nil {
		return nil, report, err
	}

	l.logger.Debug("Ontology loaded",
		"entities", len(g.entities),
		"relations", len(g.relations),
		"schemas", g.schemas.Len(),
		"templates", len(g.templates),
		"warnings", len(report.Warnings))
	return g, report, nil
}

func (l *loader) build(g *Graph, doc *Document) error {
	for _, d := range doc.Entities {
		mergeDescriptor(g.node(d.Name), d)
	}
	for i, rec := range doc.Relationships {
		src := g.node(rec.Source.Name)
		mergeDescriptor(src, rec.Source)
		dst := g.node(rec.Target.Name)
		mergeDescriptor(dst, rec.Target)

		r := &Relation{
			Triple:   Triple{Source: rec.Source.Name, Verb: rec.Type.Name, Target: rec.Target.Name},
			Category: ParseCategory(rec.Type.VerbType),
			Loop: &LoopConfig{
				MaxRetries:    l.defaultMaxRetries,
				PassThreshold: l.defaultPassThreshold,
			},
		}
		if rec.Loop != nil {
			if rec.Loop.MaxRetries != nil {
				r.Loop.MaxRetries = *rec.Loop.MaxRetries
			}
			if rec.Loop.PassThreshold != nil {
				r.Loop.PassThreshold = *rec.Loop.PassThreshold
			}
			r.Loop.Mode = rec.Loop.Mode
		}
		if !g.addRelation(r) {
			return failure.New(failure.OntologyInvalid,
				"relation %d duplicates %s", i, r.Triple).
				WithHint("each (source, verb, target) may appear once")
		}
	}
	return nil
}

// mergeDescriptor fills unset entity fields from a descriptor. The first
// declaration of a field wins.
func mergeDescriptor(e *Entity, d Descriptor) {
	if class, ok := parseClass(d.Type); ok && !e.declared {
		e.Class = class
		e.declared = true
	}
	if e.Model == "" {
		e.Model = d.Model
	}
	if e.ModelCategory == "" {
		e.ModelCategory = d.ModelType
	}
	if e.CLI == "" {
		e.CLI = d.AICli
	}
}

// inferClasses assigns a class to undeclared entities. Something that is
// created is an artifact; something that only creates, verifies or refines
// is an agent.
func inferClasses(g *Graph) {
	for _, name := range g.order {
		e := g.entities[name]
		if e.declared {
			continue
		}
		e.Class = ClassArtifact
		if g.IsRoot(name) || len(g.IncomingOf(name, Creation)) > 0 {
			continue
		}
		for _, r := range g.out[name] {
			if r.Category.Actionable() {
				e.Class = ClassAgent
				break
			}
		}
	}
}

// validateTopology enforces the graph invariants. Agent-to-agent creation or
// verification is invalid; artifacts without a producer path from the root
// are unreachable. Missing schemas only warn.
func validateTopology(g *Graph, report *Report) error {
	for _, r := range g.relations {
		if r.Category != Creation && r.Category != Verification {
			continue
		}
		if g.entities[r.Source].IsAgent() && g.entities[r.Target].IsAgent() {
			return failure.New(failure.OntologyInvalid,
				"%s targets agent %q", r.Triple, r.Target).
				WithHint("creation and verification must target an artifact kind")
		}
	}

	for _, r := range g.relations {
		if r.Category.Actionable() && !g.entities[r.Source].IsAgent() {
			report.warnf("%s leaves non-agent %q and will never be dispatched", r.Triple, r.Source)
		}
	}

	for _, e := range g.Entities() {
		if e.IsAgent() || g.IsRoot(e.Name) || e.Class == ClassOther {
			continue
		}
		if _, ok := g.SchemaFor(e.Name); !ok && g.baseDir != "" {
			report.warnf("Ontology references unknown schema '%s'; expected at `artifact/schema/%s.schema.json`",
				e.Name, SnakeCase(e.Name))
		}
	}

	if missing := unreachable(g); len(missing) > 0 {
		return failure.New(failure.UnreachableEntities,
			"no producer path for: %s", strings.Join(missing, ", ")).
			WithHint(MissingCreatorHint)
	}
	return nil
}

// unreachable computes the artifacts that can never be produced. Starting
// from the root, an artifact becomes producible once an agent creates it and
// all of its prerequisites are producible.
func unreachable(g *Graph) []string {
	producible := map[string]bool{g.root: true}
	for changed := true; changed; {
		changed = false
		for _, name := range g.order {
			e := g.entities[name]
			if producible[name] || e.Class != ClassArtifact {
				continue
			}
			if !hasAgentCreator(g, name) {
				continue
			}
			ready := true
			for _, pre := range g.Prerequisites(name) {
				if !producible[pre] {
					ready = false
					break
				}
			}
			if ready {
				producible[name] = true
				changed = true
			}
		}
	}

	var missing []string
	for _, name := range g.order {
		if g.entities[name].Class == ClassArtifact && !producible[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func hasAgentCreator(g *Graph, name string) bool {
	for _, r := range g.IncomingOf(name, Creation) {
		if g.entities[r.Source].IsAgent() {
			return true
		}
	}
	return false
}
