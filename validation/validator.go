// Package validation checks parsed LLM payloads against the JSON schemas that
// ship next to an ontology.
//
// Schemas are compiled lazily, once per kind, by a single compiler that knows
// every schema in the index, so cross-document $ref between schema files
// resolves without touching the network.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/ontology"
)

const verificationURL = "mem:///icl/verification.schema.json"

// verificationSchema is the reply every Verification edge must produce.
var verificationSchema = []byte(`{
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 1},
    "feedback": {"type": "string"}
  }
}`)

// Error lists every schema violation found in one value.
type Error struct {
	Kind     string
	Messages []string
}

func (e *Error) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Validator validates values by entity kind. It is safe for concurrent use.
type Validator struct {
	mu       sync.Mutex
	index    *ontology.SchemaIndex
	compiler *jsonschema.Compiler
	compiled map[string]*jsonschema.Schema
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New registers every schema of the index with a fresh compiler.
func New(index *ontology.SchemaIndex, opts ...Option) *Validator {
	if index == nil {
		index = ontology.NewSchemaIndex()
	}
	v := &Validator{
		index:    index,
		compiler: jsonschema.NewCompiler(),
		compiled: make(map[string]*jsonschema.Schema),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.compiler.UseLoader(indexLoader{index: index})
	for _, s := range index.All() {
		if err := v.compiler.AddResource(s.URL(), s.Doc); err != nil {
			v.logger.Warn("Skipping schema resource", "path", s.Path, "url", s.URL(), "error", err)
		}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(verificationSchema))
	if err == nil {
		err = v.compiler.AddResource(verificationURL, doc)
	}
	if err != nil {
		panic(fmt.Sprintf("validation: built-in verification schema: %v", err))
	}
	return v
}

// HasSchema reports whether kind has a schema file.
func (v *Validator) HasSchema(kind string) bool {
	_, ok := v.index.Lookup(kind)
	return ok
}

// Check compiles every schema in the index and returns one OntologyInvalid
// error per schema that fails to compile.
func (v *Validator) Check() []error {
	var errs []error
	for _, s := range v.index.All() {
		if _, err := v.compile(s.URL()); err != nil {
			errs = append(errs, (&failure.Error{
				Kind:    failure.OntologyInvalid,
				Message: fmt.Sprintf("schema %s does not compile", s.Path),
				Err:     err,
			}).WithHint("fix the schema or remove `"+s.Path+"`"))
		}
	}
	return errs
}

// Validate checks value against the schema registered for kind. Kinds without
// a schema always pass. An array value checked against a single-object schema
// is validated element by element, with messages prefixed by the index.
func (v *Validator) Validate(kind string, value any) error {
	s, ok := v.index.Lookup(kind)
	if !ok {
		return nil
	}
	sch, err := v.compile(s.URL())
	if err != nil {
		return (&failure.Error{
			Kind:    failure.OntologyInvalid,
			Message: fmt.Sprintf("schema for %s does not compile", kind),
			Err:     err,
		}).WithHint("fix the schema or remove `" + s.Path + "`")
	}

	var msgs []string
	if items, isArray := value.([]any); isArray && !s.ExpectsArray() {
		for i, item := range items {
			for _, m := range messages(sch.Validate(item)) {
				msgs = append(msgs, fmt.Sprintf("[%d] %s", i, m))
			}
		}
	} else {
		msgs = messages(sch.Validate(value))
	}
	if len(msgs) == 0 {
		return nil
	}
	return &failure.Error{
		Kind:    failure.ValidationError,
		Message: fmt.Sprintf("%s does not match its schema", kind),
		Err:     &Error{Kind: kind, Messages: msgs},
	}
}

// Verification validates a verifier's reply and returns its score and feedback.
func (v *Validator) Verification(value any) (float64, string, error) {
	sch, err := v.compile(verificationURL)
	if err != nil {
		return 0, "", err
	}
	if msgs := messages(sch.Validate(value)); len(msgs) > 0 {
		return 0, "", &failure.Error{
			Kind:    failure.ValidationError,
			Message: "verification reply must be {\"score\": 0..1, \"feedback\": string}",
			Err:     &Error{Kind: "verification", Messages: msgs},
		}
	}
	obj := value.(map[string]any)
	score, _ := obj["score"].(float64)
	feedback, _ := obj["feedback"].(string)
	return score, feedback, nil
}

func (v *Validator) compile(url string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if sch, ok := v.compiled[url]; ok {
		return sch, nil
	}
	sch, err := v.compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[url] = sch
	return sch, nil
}

// Messages returns the individual violations carried by err, one per line of
// the validator's report. A nil error yields nil.
func Messages(err error) []string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Messages
	}
	if err == nil {
		return nil
	}
	return []string{err.Error()}
}

func messages(err error) []string {
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	lines := strings.Split(ve.Error(), "\n")
	out := make([]string, 0, len(lines))
	// The first line names the schema URL; the rest are the violations.
	for _, line := range lines[1:] {
		line = strings.TrimPrefix(strings.TrimSpace(line), "- ")
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(lines[0]))
	}
	return out
}

// indexLoader resolves $ref targets that were not registered under their
// exact URL by matching the file name against the schema index.
type indexLoader struct {
	index *ontology.SchemaIndex
}

func (l indexLoader) Load(url string) (any, error) {
	if s, ok := l.index.Lookup(url); ok {
		return s.Doc, nil
	}
	return nil, fmt.Errorf("schema %s is not under artifact/schema", url)
}
