//go:build ignore

// Regenerates the published JSON Schemas: go run scripts/gen-schema.go
package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/cellpilot/pkg/kernelclient"
	"github.com/ormasoftchile/cellpilot/pkg/schema"
)

func main() {
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	outputs := []struct {
		path string
		gen  func() ([]byte, error)
	}{
		{"schemas/notebook-v1.json", schema.GenerateNotebookJSONSchema},
		{"schemas/execute-response.json", kernelclient.ExecuteResponseJSONSchema},
	}
	for _, o := range outputs {
		data, err := o.gen()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error generating %s: %v\n", o.path, err)
			os.Exit(1)
		}
		if err := os.WriteFile(o.path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote", o.path)
	}
}
