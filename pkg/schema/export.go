package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateNotebookJSONSchema produces a JSON Schema Draft 2020-12 document
// from the Notebook Go types.
func GenerateNotebookJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Notebook{})
	s.ID = "https://github.com/ormasoftchile/cellpilot/schemas/notebook-v1.json"
	s.Title = "cellpilot notebook (cellpilot/v1)"
	s.Description = "Schema for cellpilot notebook definition YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal notebook schema: %w", err)
	}
	return data, nil
}
