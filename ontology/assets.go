package ontology

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/c360studio/icl/failure"
)

// Asset locations relative to the ontology base directory.
const (
	SchemaGlob       = "artifact/schema/**/*.json"
	PromptGlob       = "relationship/prompt/**/*.md"
	SystemPromptGlob = "agent/system_prompt/**/*.md"
)

// Schema is one JSON schema file found next to the ontology.
type Schema struct {
	// Stem is the file name without the .schema.json or .json suffix.
	Stem  string
	Path  string
	ID    string
	Title string

	// Doc is the decoded schema, ready for a jsonschema compiler.
	Doc any
	Raw []byte
}

// URL is the resource location the schema is registered under when compiled.
func (s *Schema) URL() string {
	if s.ID != "" {
		return s.ID
	}
	return "mem:///schemas/" + s.Stem + ".json"
}

// ExpectsArray reports whether the schema's top-level type is array.
func (s *Schema) ExpectsArray() bool {
	m, ok := s.Doc.(map[string]any)
	if !ok {
		return false
	}
	switch t := m["type"].(type) {
	case string:
		return t == "array"
	case []any:
		for _, v := range t {
			if v == "array" {
				return true
			}
		}
	}
	return false
}

// SchemaIndex resolves schemas by several aliases: file stem, $id and title.
type SchemaIndex struct {
	all   []*Schema
	byKey map[string]*Schema
	byID  map[string]*Schema
}

// NewSchemaIndex creates an empty index.
func NewSchemaIndex() *SchemaIndex {
	return &SchemaIndex{
		byKey: make(map[string]*Schema),
		byID:  make(map[string]*Schema),
	}
}

// Add indexes a schema. Earlier entries win alias collisions.
func (x *SchemaIndex) Add(s *Schema) {
	x.all = append(x.all, s)
	aliases := []string{s.Stem, s.Title}
	if s.ID != "" {
		if _, ok := x.byID[s.ID]; !ok {
			x.byID[s.ID] = s
		}
		aliases = append(aliases, idSegment(s.ID))
	}
	for _, a := range aliases {
		key := normalizeKey(a)
		if key == "" {
			continue
		}
		if _, ok := x.byKey[key]; !ok {
			x.byKey[key] = s
		}
	}
}

// Lookup finds a schema by $id or by any normalized alias. "DesignSpec",
// "design_spec" and "design-spec.schema.json" all resolve to the same entry.
func (x *SchemaIndex) Lookup(name string) (*Schema, bool) {
	if s, ok := x.byID[name]; ok {
		return s, true
	}
	s, ok := x.byKey[normalizeKey(stemOf(name))]
	return s, ok
}

// All returns every indexed schema in load order.
func (x *SchemaIndex) All() []*Schema {
	out := make([]*Schema, len(x.all))
	copy(out, x.all)
	return out
}

// Len returns the number of indexed schema files.
func (x *SchemaIndex) Len() int { return len(x.all) }

// normalizeKey lowercases s and drops everything but letters and digits.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// stemOf strips directory and schema suffixes from a file-like name.
func stemOf(name string) string {
	base := path.Base(filepath.ToSlash(name))
	for _, suffix := range []string{".schema.json", ".json", ".md"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

func idSegment(id string) string {
	id = strings.TrimRight(id, "/#")
	if i := strings.LastIndexAny(id, "/#"); i >= 0 {
		id = id[i+1:]
	}
	return stemOf(id)
}

// SnakeCase converts CamelCase to snake_case.
func SnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// globAssets lists files matching pattern under base, sorted, slash-separated.
func globAssets(base, pattern string) ([]string, error) {
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(base), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// loadSchemas indexes every schema file under base.
func loadSchemas(base string, idx *SchemaIndex) error {
	files, err := globAssets(base, SchemaGlob)
	if err != nil {
		return failure.Wrap(failure.OntologyInvalid, err, "list %s", SchemaGlob)
	}
	for _, rel := range files {
		full := filepath.Join(base, filepath.FromSlash(rel))
		raw, err := os.ReadFile(full)
		if err != nil {
			return failure.Wrap(failure.OntologyInvalid, err, "read schema %s", rel)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return (&failure.Error{
				Kind:    failure.OntologyInvalid,
				Message: fmt.Sprintf("schema %s is not valid JSON", rel),
				Err:     err,
			}).WithHint("fix or remove `" + rel + "`")
		}
		s := &Schema{Stem: stemOf(rel), Path: full, Doc: doc, Raw: raw}
		if m, ok := doc.(map[string]any); ok {
			s.ID, _ = m["$id"].(string)
			s.Title, _ = m["title"].(string)
		}
		idx.Add(s)
	}
	return nil
}

// readMarkdown loads every file matching pattern keyed by its stem. Files
// must be readable UTF-8 text.
func readMarkdown(base, pattern string) (map[string]string, error) {
	files, err := globAssets(base, pattern)
	if err != nil {
		return nil, failure.Wrap(failure.OntologyInvalid, err, "list %s", pattern)
	}
	out := make(map[string]string, len(files))
	for _, rel := range files {
		data, err := fs.ReadFile(os.DirFS(base), rel)
		if err != nil {
			return nil, (&failure.Error{
				Kind:    failure.OntologyInvalid,
				Message: fmt.Sprintf("read %s", rel),
				Err:     err,
			}).WithHint("make `" + rel + "` readable or remove it")
		}
		if !utf8.Valid(data) {
			return nil, failure.New(failure.OntologyInvalid, "%s is not UTF-8 text", rel).
				WithHint("save `" + rel + "` as UTF-8")
		}
		out[stemOf(rel)] = string(data)
	}
	return out, nil
}

// bindTemplates attaches prompt templates to edges. A file named
// {source}_{verb}_{target}.md (in either CamelCase or snake_case) is specific
// to one edge; a file named after a verb alone is the default for that verb.
func (g *Graph) bindTemplates(files map[string]string) {
	byKey := make(map[string]string, len(files))
	for stem, content := range files {
		byKey[strings.ToLower(stem)] = content
	}
	for _, r := range g.relations {
		candidates := []string{
			r.Source + "_" + r.Verb + "_" + r.Target,
			SnakeCase(r.Source) + "_" + SnakeCase(r.Verb) + "_" + SnakeCase(r.Target),
		}
		for _, c := range candidates {
			if content, ok := byKey[strings.ToLower(c)]; ok {
				g.templates[r.Triple] = content
				break
			}
		}
	}
	for stem, content := range files {
		if !strings.Contains(stem, "_") {
			g.verbTemplates[normalizeKey(stem)] = content
		}
	}
}

// bindSystemPrompts attaches agent system prompts and marks their owners as
// agents. A prompt for a role absent from the document registers the role.
func (g *Graph) bindSystemPrompts(files map[string]string) {
	byKey := make(map[string]string, len(g.entities))
	for name := range g.entities {
		byKey[normalizeKey(name)] = name
	}
	stems := make([]string, 0, len(files))
	for stem := range files {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	for _, stem := range stems {
		name, ok := byKey[normalizeKey(stem)]
		if !ok {
			name = stem
		}
		e := g.node(name)
		e.Class = ClassAgent
		e.declared = true
		g.systemPrompts[name] = files[stem]
	}
}
