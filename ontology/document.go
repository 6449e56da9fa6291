package ontology

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/c360studio/icl/failure"
)

//go:embed meta.schema.json
var metaSchemaJSON []byte

const metaSchemaURL = "https://icl.c360studio.dev/ontology.schema.json"

var (
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
	metaSchemaOnce sync.Once
)

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(metaSchemaJSON))
		if err != nil {
			metaSchemaErr = fmt.Errorf("parse meta-schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metaSchemaURL, doc); err != nil {
			metaSchemaErr = fmt.Errorf("add meta-schema: %w", err)
			return
		}
		metaSchema, metaSchemaErr = c.Compile(metaSchemaURL)
	})
	return metaSchema, metaSchemaErr
}

// Descriptor is the entity half of a relation record.
type Descriptor struct {
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Model     string `json:"model,omitempty"`
	ModelType string `json:"modelType,omitempty"`
	AICli     string `json:"aiCli,omitempty"`

	// Extra holds fields the loader does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	type plain Descriptor
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name", "type", "model", "modelType", "aiCli")
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

// Verb is the typed edge label of a relation record.
type Verb struct {
	Name     string `json:"name"`
	VerbType string `json:"verbType,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (v *Verb) UnmarshalJSON(data []byte) error {
	type plain Verb
	if err := json.Unmarshal(data, (*plain)(v)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "name", "verbType")
	if err != nil {
		return err
	}
	v.Extra = extra
	return nil
}

// LoopSpec is the optional per-edge loop budget.
type LoopSpec struct {
	MaxRetries    *int     `json:"maxRetries,omitempty"`
	PassThreshold *float64 `json:"passThreshold,omitempty"`
	Mode          string   `json:"mode,omitempty"`
}

// Record is one relation of the ontology document.
type Record struct {
	Source Descriptor `json:"source"`
	Target Descriptor `json:"target"`
	Type   Verb       `json:"type"`
	Loop   *LoopSpec  `json:"loop,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	extra, err := unknownFields(data, "source", "target", "type", "loop")
	if err != nil {
		return err
	}
	r.Extra = extra
	return nil
}

// Document is the parsed ontology in either accepted shape.
type Document struct {
	Entities      []Descriptor `json:"entities,omitempty"`
	Relationships []Record     `json:"relationships"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ParseDocument validates data against the ontology meta-schema and decodes it.
// Both a bare array of relation records and an {entities, relationships}
// object are accepted.
func ParseDocument(data []byte) (*Document, error) {
	schema, err := compiledMetaSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Wrap(failure.OntologyInvalid, err, "ontology is not valid JSON")
	}
	if err := schema.Validate(inst); err != nil {
		return nil, (&failure.Error{
			Kind:    failure.OntologyInvalid,
			Message: "ontology does not match the ontology format",
			Err:     err,
		}).WithHint("each relation needs source.name, target.name and type.name")
	}

	doc := &Document{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Relationships); err != nil {
			return nil, failure.Wrap(failure.OntologyInvalid, err, "decode relation list")
		}
		return doc, nil
	}

	type plain Document
	if err := json.Unmarshal(trimmed, (*plain)(doc)); err != nil {
		return nil, failure.Wrap(failure.OntologyInvalid, err, "decode ontology object")
	}
	extra, err := unknownFields(trimmed, "entities", "relationships")
	if err != nil {
		return nil, failure.Wrap(failure.OntologyInvalid, err, "decode ontology object")
	}
	doc.Extra = extra
	return doc, nil
}

// unknownFields returns the members of a JSON object not named in known.
func unknownFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
