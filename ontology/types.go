// Package ontology loads an ontology document into a validated directed
// multigraph of entity kinds and relations, cross-indexed with the JSON
// schemas, prompt templates and agent system prompts found next to it.
package ontology

import (
	"fmt"
	"strings"
)

// DefaultRoot is the implicit root entity seeded with the user goal.
const DefaultRoot = "SoftwareApplication"

// Loop defaults applied when a relation carries no loop config.
const (
	DefaultMaxRetries    = 3
	DefaultPassThreshold = 0.8
)

// ModeCollection lets a Creation edge keep appending to an array kind.
const ModeCollection = "collection"

// Class is the role an entity kind plays in the ontology.
type Class string

const (
	ClassAgent    Class = "Agent"
	ClassArtifact Class = "Artifact"
	ClassOther    Class = "Other"
)

// parseClass maps a declared entity type to a class. Empty means undeclared.
func parseClass(s string) (Class, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", false
	case "agent", "role":
		return ClassAgent, true
	case "other", "concept":
		return ClassOther, true
	default:
		return ClassArtifact, true
	}
}

// Category is the semantic class of a verb.
type Category string

const (
	Creation     Category = "Creation"
	Verification Category = "Verification"
	Refinement   Category = "Refinement"
	Dependency   Category = "Dependency"
	Context      Category = "Context"
)

// ParseCategory returns the category named by s. Unknown values fall back to Context.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "creation":
		return Creation
	case "verification":
		return Verification
	case "refinement":
		return Refinement
	case "dependency":
		return Dependency
	default:
		return Context
	}
}

// Actionable reports whether the planner may dispatch edges of this category.
func (c Category) Actionable() bool {
	return c == Creation || c == Verification || c == Refinement
}

// Priority orders actionable categories for planning; lower runs first.
func (c Category) Priority() int {
	switch c {
	case Creation:
		return 0
	case Verification:
		return 1
	case Refinement:
		return 2
	default:
		return 3
	}
}

// Entity is a named node of the graph.
type Entity struct {
	Name  string `json:"name"`
	Class Class  `json:"class"`

	// Execution binding, meaningful for agents.
	Model         string `json:"model,omitempty"`
	ModelCategory string `json:"model_category,omitempty"`
	CLI           string `json:"cli,omitempty"`

	declared bool
}

// IsAgent reports whether the entity is an agent role.
func (e *Entity) IsAgent() bool {
	return e != nil && e.Class == ClassAgent
}

// Triple identifies a relation and, by extension, an action.
type Triple struct {
	Source string `json:"source"`
	Verb   string `json:"verb"`
	Target string `json:"target"`
}

func (t Triple) String() string {
	return fmt.Sprintf("%s --%s--> %s", t.Source, t.Verb, t.Target)
}

// Less orders triples lexicographically by source, verb, target.
func (t Triple) Less(o Triple) bool {
	if t.Source != o.Source {
		return t.Source < o.Source
	}
	if t.Verb != o.Verb {
		return t.Verb < o.Verb
	}
	return t.Target < o.Target
}

// LoopConfig bounds how often an edge may be dispatched and what counts as passing.
type LoopConfig struct {
	MaxRetries    int     `json:"max_retries,omitempty"`
	PassThreshold float64 `json:"pass_threshold,omitempty"`
	Mode          string  `json:"mode,omitempty"`
}

// Relation is a directed, typed edge.
type Relation struct {
	Triple
	Category Category    `json:"category"`
	Loop     *LoopConfig `json:"loop,omitempty"`
}

// MaxRetries returns the edge budget, defaulting to DefaultMaxRetries.
func (r *Relation) MaxRetries() int {
	if r.Loop != nil && r.Loop.MaxRetries > 0 {
		return r.Loop.MaxRetries
	}
	return DefaultMaxRetries
}

// PassThreshold returns the verification threshold, defaulting to DefaultPassThreshold.
func (r *Relation) PassThreshold() float64 {
	if r.Loop != nil && r.Loop.PassThreshold > 0 {
		return r.Loop.PassThreshold
	}
	return DefaultPassThreshold
}

// Collection reports whether the edge appends to an array kind instead of replacing it.
func (r *Relation) Collection() bool {
	return r.Loop != nil && r.Loop.Mode == ModeCollection
}
