package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/cellpilot/pkg/eval"
	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "steps[0].code")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidateFile performs the full 3-phase validation pipeline on a notebook file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Notebook, []*ValidationError) {
	nb, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return nb, Validate(nb)
}

// Validate runs the semantic and domain phases on an already decoded notebook.
func Validate(nb *Notebook) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(nb)...)
	all = append(all, ValidateDomain(nb)...)
	if len(all) == 0 {
		return nil
	}
	return all
}

func semanticError(format string, args ...any) []*ValidationError {
	return []*ValidationError{{
		Phase:    "semantic",
		Path:     "",
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}}
}

// validateSemantic validates the notebook against the reflected JSON Schema.
func validateSemantic(nb *Notebook) []*ValidationError {
	data, err := json.Marshal(nb)
	if err != nil {
		return semanticError("marshal for schema validation: %v", err)
	}

	schemaJSON, err := GenerateNotebookJSONSchema()
	if err != nil {
		return semanticError("generate schema: %v", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticError("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("notebook-v1.json", schemaDoc); err != nil {
		return semanticError("add schema resource: %v", err)
	}
	sch, err := c.Compile("notebook-v1.json")
	if err != nil {
		return semanticError("compile schema: %v", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticError("unmarshal document: %v", err)
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return semanticError("%v", err)
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Path:     strings.Join(cause.InstanceLocation, "/"),
				Message:  fmt.Sprintf("%v", cause.ErrorKind),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

var (
	templateVarRe  = regexp.MustCompile(`\{\{-?(?:[^}]*?[\s(])?\.(\w+)`)
	completedRefRe = regexp.MustCompile(`completed\(\s*"([^"]*)"\s*\)`)
)

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(nb *Notebook) []*ValidationError {
	var errs []*ValidationError
	add := func(path, severity, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: severity,
		})
	}

	if nb.APIVersion != APIVersion {
		add("apiVersion", "error", "unrecognized apiVersion %q, expected %q", nb.APIVersion, APIVersion)
	}
	if len(nb.Steps) == 0 {
		add("steps", "error", "notebook must contain at least one step")
	}

	seen := make(map[string]int)
	for i, s := range nb.Steps {
		if prev, ok := seen[s.ID]; ok {
			add(fmt.Sprintf("steps[%d].id", i), "error", "duplicate step ID %q (first at steps[%d])", s.ID, prev)
		} else {
			seen[s.ID] = i
		}
		if _, err := notebook.CellID(s.ID); err != nil {
			add(fmt.Sprintf("steps[%d].id", i), "error", "%v", err)
		}
		if strings.TrimSpace(s.Title) == "" {
			add(fmt.Sprintf("steps[%d].title", i), "error", "step %q requires a title", s.ID)
		}
		if strings.TrimSpace(s.Code) == "" {
			add(fmt.Sprintf("steps[%d].code", i), "warning", "step %q has no code template; running it is a no-op until edited", s.ID)
		}
	}

	for i, s := range nb.Steps {
		if s.Code != "" {
			if err := eval.Check(s.Code); err != nil {
				add(fmt.Sprintf("steps[%d].code", i), "error", "%v", err)
			} else {
				for _, m := range templateVarRe.FindAllStringSubmatch(s.Code, -1) {
					if _, ok := nb.Vars[m[1]]; !ok {
						add(fmt.Sprintf("steps[%d].code", i), "warning",
							"variable %q is not defined in vars and must be supplied with --var", m[1])
					}
				}
			}
		}
		if s.Requires == "" {
			continue
		}
		if _, err := pipeline.Compile(s.Requires); err != nil {
			add(fmt.Sprintf("steps[%d].requires", i), "error", "%v", err)
			continue
		}
		for _, m := range completedRefRe.FindAllStringSubmatch(s.Requires, -1) {
			if _, ok := seen[m[1]]; !ok {
				add(fmt.Sprintf("steps[%d].requires", i), "error", "requires references unknown step %q", m[1])
			}
		}
	}

	return errs
}
