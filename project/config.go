// Package project manages the per-project icl.json file under
// <work_dir>/.infinitecodingloop/.
package project

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/storage"
)

// Version is written into every new icl.json.
const Version = "1.0.0"

// DefaultDocsFolder is the docs folder when none is configured.
const DefaultDocsFolder = "spec"

// File names inside the .infinitecodingloop directory.
const (
	ConfigFile       = "icl.json"
	LegacyAppFile    = "app.json"
	LegacyConfigFile = "config.json"
)

//go:embed icl.schema.json
var schemaJSON []byte

const schemaURL = "https://icl.c360studio.dev/icl.schema.json"

var (
	schema     *jsonschema.Schema
	schemaErr  error
	schemaOnce sync.Once
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse icl.json schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add icl.json schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Config is the content of icl.json.
type Config struct {
	// Schema is an optional $schema reference for editors.
	Schema string `json:"$schema,omitempty"`

	// Version is the semantic version of the config format.
	Version string `json:"version"`

	// AppID uniquely identifies the project.
	AppID string `json:"app_id"`

	// AppName is the human-readable project name.
	AppName string `json:"app_name"`

	// DocsFolder is where user documentation lives, relative to the work dir.
	DocsFolder string `json:"docs_folder"`
}

// Validate checks the config against the icl.json schema.
func (c *Config) Validate() error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("invalid icl.json: %s", strings.Join(violationLines(ve), "; "))
		}
		return fmt.Errorf("invalid icl.json: %w", err)
	}
	return nil
}

func violationLines(ve *jsonschema.ValidationError) []string {
	lines := strings.Split(ve.Error(), "\n")
	var out []string
	for _, line := range lines[1:] {
		if line = strings.TrimPrefix(strings.TrimSpace(line), "- "); line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(lines[0]))
	}
	return out
}

// Dir returns the .infinitecodingloop directory of a work dir.
func Dir(workDir string) string {
	return filepath.Join(workDir, storage.DirName)
}

// Path returns the icl.json path of a work dir.
func Path(workDir string) string {
	return filepath.Join(Dir(workDir), ConfigFile)
}

// Load reads and validates icl.json. It returns os.ErrNotExist (wrapped)
// when the project has no icl.json yet.
func Load(workDir string) (*Config, error) {
	data, err := os.ReadFile(Path(workDir))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ConfigFile, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ConfigFile, err)
	}
	if c.DocsFolder == "" {
		c.DocsFolder = DefaultDocsFolder
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save validates c and writes it atomically.
func Save(workDir string, c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(Dir(workDir), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", storage.DirName, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", ConfigFile, err)
	}
	return artifact.WriteFileAtomic(Path(workDir), append(data, '\n'))
}
