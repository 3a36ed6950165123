package render

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

func TestItem_Stream(t *testing.T) {
	b := Item(notebook.StreamOutput{Name: "stdout", Content: "hello\n"}, Options{})
	if b.Kind != notebook.KindStream || b.Body != "hello\n" || b.Title != "" {
		t.Errorf("block = %+v", b)
	}
	b = Item(notebook.StreamOutput{Name: "stderr", Content: "warn"}, Options{})
	if b.Title != "stderr" {
		t.Errorf("stderr title = %q", b.Title)
	}
}

func TestItem_Text(t *testing.T) {
	b := Item(notebook.StreamOutput{Text: true, Content: "42"}, Options{})
	if b.Kind != notebook.KindText || b.Body != "42" {
		t.Errorf("block = %+v", b)
	}
}

// TestItem_Error strips ANSI escapes from the traceback and honours CanExplain.
func TestItem_Error(t *testing.T) {
	e := notebook.ErrorOutput{
		Name:      "NameError",
		Value:     "name 'x' is not defined",
		Traceback: []string{"\x1b[0;31mNameError\x1b[0m", "  line 1"},
	}
	b := Item(e, Options{CanExplain: true})
	if b.Title != "NameError: name 'x' is not defined" {
		t.Errorf("title = %q", b.Title)
	}
	if b.Body != "NameError\n  line 1" {
		t.Errorf("body = %q", b.Body)
	}
	if !b.Explainable {
		t.Error("expected explainable")
	}
	if Item(e, Options{}).Explainable {
		t.Error("not explainable without a forwarder")
	}
}

func TestItem_Image(t *testing.T) {
	// 12 base64 chars with one pad = 8 bytes
	b := Item(notebook.ImageOutput{Content: "iVBORw0KGgo=", Format: "png"}, Options{})
	if b.Body != "[image/png, 8 B]" {
		t.Errorf("body = %q", b.Body)
	}
	b = Item(notebook.ImageOutput{Content: strings.Repeat("A", 4000)}, Options{})
	if b.Body != "[image/png, 3.0 kB]" {
		t.Errorf("body = %q", b.Body)
	}
}

func TestItem_Unknown(t *testing.T) {
	b := Item(notebook.UnknownOutput{Type: "widget"}, Options{})
	if b.Kind != "widget" || !strings.Contains(b.Body, `"widget"`) {
		t.Errorf("block = %+v", b)
	}
}

func TestItem_WidthTruncates(t *testing.T) {
	b := Item(notebook.StreamOutput{Content: "abcdefghij\nab"}, Options{Width: 5})
	lines := strings.Split(b.Body, "\n")
	if lines[0] != "abcd…" || lines[1] != "ab" {
		t.Errorf("lines = %q", lines)
	}
}

func TestItems_Order(t *testing.T) {
	blocks := Items([]notebook.OutputItem{
		notebook.StreamOutput{Content: "a"},
		notebook.ErrorOutput{Name: "E", Value: "v"},
	}, Options{})
	if len(blocks) != 2 || blocks[0].Body != "a" || blocks[1].Kind != notebook.KindError {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestBlock_String(t *testing.T) {
	if got := (Block{Title: "T", Body: "B"}).String(); got != "T\nB" {
		t.Errorf("got %q", got)
	}
	if got := (Block{Body: "B"}).String(); got != "B" {
		t.Errorf("got %q", got)
	}
	if got := (Block{Title: "T"}).String(); got != "T" {
		t.Errorf("got %q", got)
	}
}
