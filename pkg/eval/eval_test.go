package eval

import (
	"testing"
)

func TestResolve_Literal(t *testing.T) {
	result, err := Resolve("print('hello')", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != "print('hello')" {
		t.Errorf("got %q", result)
	}
}

func TestResolve_SimpleVar(t *testing.T) {
	vars := map[string]any{"dataset": "data/expr.csv"}
	result, err := Resolve(`df = pd.read_csv("{{ .dataset }}")`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if result != `df = pd.read_csv("data/expr.csv")` {
		t.Errorf("got %q", result)
	}
}

func TestResolve_MissingVarIsError(t *testing.T) {
	if _, err := Resolve("{{ .nope }}", map[string]any{}); err == nil {
		t.Error("expected error for missing variable")
	}
}

func TestResolve_Default(t *testing.T) {
	result, err := Resolve(`{{ default "0.05" .alpha }}`, map[string]any{"alpha": ""})
	if err != nil {
		t.Fatal(err)
	}
	if result != "0.05" {
		t.Errorf("got %q", result)
	}
}

func TestResolve_PyQuote(t *testing.T) {
	result, err := Resolve(`path = {{ pyquote .p }}`, map[string]any{"p": `a"b`})
	if err != nil {
		t.Fatal(err)
	}
	if result != `path = "a\"b"` {
		t.Errorf("got %q", result)
	}
}

func TestCheck_ParseError(t *testing.T) {
	if err := Check("{{ .x "); err == nil {
		t.Error("expected parse error")
	}
	if err := Check("no placeholders"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestMerge_LaterWins(t *testing.T) {
	m := Merge(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"})
	if m["a"] != "1" || m["b"] != "3" {
		t.Errorf("merged = %v", m)
	}
}
