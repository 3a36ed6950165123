// Package schema defines the notebook definition document and provides
// strict YAML parsing, JSON Schema export and validation.
//
// A notebook lists the fixed analysis steps in order. Each step carries the
// default code template shown until the user edits the cell.
package schema

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/cellpilot/pkg/eval"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

// APIVersion is the only supported notebook document version.
const APIVersion = "cellpilot/v1"

// Notebook is the top-level notebook definition document.
type Notebook struct {
	APIVersion string            `yaml:"apiVersion"      json:"apiVersion"      jsonschema:"required,enum=cellpilot/v1"`
	Meta       Meta              `yaml:"meta"            json:"meta"            jsonschema:"required"`
	Vars       map[string]string `yaml:"vars,omitempty"  json:"vars,omitempty"`
	Steps      []Step            `yaml:"steps"           json:"steps"           jsonschema:"required,minItems=1"`
}

// Meta contains notebook metadata.
type Meta struct {
	Name        string `yaml:"name"                  json:"name"                  jsonschema:"required,minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Step is one cell of the workflow.
type Step struct {
	ID          string `yaml:"id"                    json:"id"                    jsonschema:"required,pattern=^step-[1-9][0-9]*$"`
	Title       string `yaml:"title"                 json:"title"                 jsonschema:"required,minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Code is the default template; {{ .var }} placeholders resolve against Vars.
	Code string `yaml:"code,omitempty" json:"code,omitempty"`
	// Requires is an optional boolean expression over pipeline state that
	// marks the step as ready, e.g. `completed("step-1")`.
	Requires string `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// LoadFile reads and structurally decodes a notebook YAML file.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Notebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open notebook: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a notebook from a reader.
func Load(r io.Reader) (*Notebook, error) {
	var nb Notebook
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&nb); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &nb, nil
}

//go:embed builtin.yaml
var builtinYAML string

// Default returns the built-in five-step analysis workflow.
func Default() *Notebook {
	nb, err := Load(strings.NewReader(builtinYAML))
	if err != nil {
		panic(fmt.Sprintf("builtin notebook: %v", err))
	}
	return nb
}

// StepIDs returns the step identifiers in notebook order.
func (nb *Notebook) StepIDs() []string {
	ids := make([]string, len(nb.Steps))
	for i, s := range nb.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Step looks up a step by ID.
func (nb *Notebook) Step(id string) (*Step, bool) {
	for i := range nb.Steps {
		if nb.Steps[i].ID == id {
			return &nb.Steps[i], true
		}
	}
	return nil, false
}

// Templates resolves every step's code template against the notebook vars
// overlaid with overrides. Steps without code have no template.
func (nb *Notebook) Templates(overrides map[string]string) (notebook.TemplateMap, error) {
	vars := eval.Merge(nb.Vars, overrides)
	out := make(notebook.TemplateMap, len(nb.Steps))
	for _, s := range nb.Steps {
		if s.Code == "" {
			continue
		}
		code, err := eval.Resolve(s.Code, vars)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
		out[s.ID] = code
	}
	return out, nil
}
