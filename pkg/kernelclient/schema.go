package kernelclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	executeSchemaOnce sync.Once
	executeSchema     *sjsonschema.Schema
	executeSchemaErr  error
)

// ExecuteResponseJSONSchema reflects the JSON Schema of /api/execute responses.
func ExecuteResponseJSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{AllowAdditionalProperties: true}
	s := r.Reflect(&executeWire{})
	s.ID = "https://github.com/ormasoftchile/cellpilot/schemas/execute-response.json"
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal execute response schema: %w", err)
	}
	return data, nil
}

func compileExecuteSchema() (*sjsonschema.Schema, error) {
	executeSchemaOnce.Do(func() {
		raw, err := ExecuteResponseJSONSchema()
		if err != nil {
			executeSchemaErr = err
			return
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			executeSchemaErr = fmt.Errorf("unmarshal execute response schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource("execute-response.json", doc); err != nil {
			executeSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		executeSchema, executeSchemaErr = c.Compile("execute-response.json")
	})
	return executeSchema, executeSchemaErr
}

// validateExecuteResponse rejects bodies that do not match the response schema.
func validateExecuteResponse(body []byte) error {
	sch, err := compileExecuteSchema()
	if err != nil {
		return fmt.Errorf("execute response schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("malformed execute response: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		var ve *sjsonschema.ValidationError
		if errors.As(err, &ve) {
			var msgs []string
			for _, leaf := range leaves(ve) {
				msgs = append(msgs, fmt.Sprintf("/%s: %v", strings.Join(leaf.InstanceLocation, "/"), leaf.ErrorKind))
			}
			return fmt.Errorf("malformed execute response: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("malformed execute response: %w", err)
	}
	return nil
}

func leaves(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var out []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}
