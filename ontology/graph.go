package ontology

import (
	"sort"
)

// Graph is a directed multigraph of entity kinds and relations plus the
// schema, template and system prompt side tables. It is read-only once
// Load returns.
type Graph struct {
	root    string
	baseDir string

	entities map[string]*Entity
	order    []string

	relations []*Relation
	byTriple  map[Triple]*Relation
	in        map[string][]*Relation
	out       map[string][]*Relation

	schemas       *SchemaIndex
	templates     map[Triple]string
	verbTemplates map[string]string
	systemPrompts map[string]string

	depth map[string]int
}

func newGraph(root, baseDir string) *Graph {
	return &Graph{
		root:          root,
		baseDir:       baseDir,
		entities:      make(map[string]*Entity),
		byTriple:      make(map[Triple]*Relation),
		in:            make(map[string][]*Relation),
		out:           make(map[string][]*Relation),
		schemas:       NewSchemaIndex(),
		templates:     make(map[Triple]string),
		verbTemplates: make(map[string]string),
		systemPrompts: make(map[string]string),
	}
}

// node inserts the entity if missing and returns the stored one.
func (g *Graph) node(name string) *Entity {
	if e, ok := g.entities[name]; ok {
		return e
	}
	e := &Entity{Name: name}
	g.entities[name] = e
	g.order = append(g.order, name)
	return e
}

// addRelation stores an edge. It returns false when the triple already exists.
func (g *Graph) addRelation(r *Relation) bool {
	if _, dup := g.byTriple[r.Triple]; dup {
		return false
	}
	g.relations = append(g.relations, r)
	g.byTriple[r.Triple] = r
	g.out[r.Source] = append(g.out[r.Source], r)
	g.in[r.Target] = append(g.in[r.Target], r)
	return true
}

// Root returns the name of the implicit root entity.
func (g *Graph) Root() string { return g.root }

// BaseDir returns the directory assets were resolved from.
func (g *Graph) BaseDir() string { return g.baseDir }

// IsRoot reports whether name is the root entity.
func (g *Graph) IsRoot(name string) bool { return name == g.root }

// Entity looks up an entity kind by exact name.
func (g *Graph) Entity(name string) (*Entity, bool) {
	e, ok := g.entities[name]
	return e, ok
}

// Entities returns every entity in alphabetical order.
func (g *Graph) Entities() []*Entity {
	names := make([]string, 0, len(g.entities))
	for name := range g.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Entity, len(names))
	for i, name := range names {
		out[i] = g.entities[name]
	}
	return out
}

// Relations returns every edge in document order.
func (g *Graph) Relations() []*Relation {
	out := make([]*Relation, len(g.relations))
	copy(out, g.relations)
	return out
}

// Relation looks up an edge by triple.
func (g *Graph) Relation(t Triple) (*Relation, bool) {
	r, ok := g.byTriple[t]
	return r, ok
}

// Incoming returns the edges pointing at name, in document order.
func (g *Graph) Incoming(name string) []*Relation { return g.in[name] }

// Outgoing returns the edges leaving name, in document order.
func (g *Graph) Outgoing(name string) []*Relation { return g.out[name] }

// IncomingOf returns the incoming edges of the given category.
func (g *Graph) IncomingOf(name string, cat Category) []*Relation {
	var out []*Relation
	for _, r := range g.in[name] {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	return out
}

// Neighbors returns every non-agent entity connected to name by any edge,
// deduplicated and sorted. name itself is excluded.
func (g *Graph) Neighbors(name string) []string {
	seen := make(map[string]bool)
	add := func(other string) {
		if other == name || seen[other] {
			return
		}
		if e, ok := g.entities[other]; ok && e.IsAgent() {
			return
		}
		seen[other] = true
	}
	for _, r := range g.in[name] {
		add(r.Source)
	}
	for _, r := range g.out[name] {
		add(r.Target)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Prerequisites returns the artifact kinds a target requires: the sources of
// Dependency edges into it. Agents and Other-class sources are not artifacts
// and never gate anything.
func (g *Graph) Prerequisites(target string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range g.in[target] {
		if r.Category != Dependency || seen[r.Source] {
			continue
		}
		e := g.entities[r.Source]
		if e == nil || e.Class != ClassArtifact {
			continue
		}
		seen[r.Source] = true
		out = append(out, r.Source)
	}
	sort.Strings(out)
	return out
}

// Depth returns the topological depth of an entity: 0 without prerequisites,
// otherwise one more than its deepest prerequisite. Cycles are cut.
func (g *Graph) Depth(name string) int {
	if d, ok := g.depth[name]; ok {
		return d
	}
	return g.computeDepth(name, map[string]bool{})
}

func (g *Graph) computeDepth(name string, visiting map[string]bool) int {
	if visiting[name] {
		return 0
	}
	visiting[name] = true
	defer delete(visiting, name)

	d := 0
	for _, pre := range g.Prerequisites(name) {
		if pd := g.computeDepth(pre, visiting) + 1; pd > d {
			d = pd
		}
	}
	return d
}

// precomputeDepths fills the depth cache. Called once the graph is complete.
func (g *Graph) precomputeDepths() {
	g.depth = make(map[string]int, len(g.entities))
	for name := range g.entities {
		g.depth[name] = g.computeDepth(name, map[string]bool{})
	}
}

// Schemas returns the schema index.
func (g *Graph) Schemas() *SchemaIndex { return g.schemas }

// SchemaFor resolves the schema of an entity kind through the alias index.
func (g *Graph) SchemaFor(name string) (*Schema, bool) {
	return g.schemas.Lookup(name)
}

// Template returns the prompt template for an edge: the specific
// source_verb_target template first, then the verb-wide default.
func (g *Graph) Template(t Triple) (string, bool) {
	if tmpl, ok := g.templates[t]; ok {
		return tmpl, true
	}
	tmpl, ok := g.verbTemplates[normalizeKey(t.Verb)]
	return tmpl, ok
}

// SystemPrompt returns an agent's system prompt.
func (g *Graph) SystemPrompt(agent string) (string, bool) {
	p, ok := g.systemPrompts[agent]
	return p, ok
}

// CreationTargets returns every kind some agent creates, sorted.
func (g *Graph) CreationTargets() []string {
	seen := make(map[string]bool)
	for _, r := range g.relations {
		if r.Category != Creation {
			continue
		}
		if src := g.entities[r.Source]; src.IsAgent() {
			seen[r.Target] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Dispatchable reports whether an edge can become an action: it must be
// actionable and leave an agent.
func (g *Graph) Dispatchable(r *Relation) bool {
	return r.Category.Actionable() && g.entities[r.Source].IsAgent()
}
