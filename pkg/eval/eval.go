// Package eval resolves {{ .var }} placeholders in notebook code templates.
package eval

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// Resolve evaluates a template string against a variable scope.
// Example: Resolve(`pd.read_csv("{{ .dataset }}")`, {"dataset": "a.csv"}) → `pd.read_csv("a.csv")`
// Unknown variables are an error rather than "<no value>".
func Resolve(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Option("missingkey=error").Funcs(builtinFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// Check parses tmpl without executing it.
func Check(tmpl string) error {
	if !strings.Contains(tmpl, "{{") {
		return nil
	}
	if _, err := template.New("").Funcs(builtinFuncs()).Parse(tmpl); err != nil {
		return fmt.Errorf("template parse: %w", err)
	}
	return nil
}

// Merge overlays later maps onto earlier ones.
func Merge(layers ...map[string]string) map[string]any {
	out := make(map[string]any)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// builtinFuncs provides template functions for code templates.
func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
		// pyquote renders a value as a double-quoted Python string literal.
		"pyquote": func(v any) string {
			return strconv.Quote(fmt.Sprint(v))
		},
		"upper": func(v any) string { return strings.ToUpper(fmt.Sprint(v)) },
		"lower": func(v any) string { return strings.ToLower(fmt.Sprint(v)) },
		"split": func(s, sep any) []string {
			return strings.Split(fmt.Sprint(s), fmt.Sprint(sep))
		},
	}
}
