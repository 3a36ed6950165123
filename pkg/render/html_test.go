package render

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

const dataFrameHTML = `<div>
<table border="1" class="dataframe">
  <thead>
    <tr style="text-align: right;"><th></th><th>gene</th><th>pval</th></tr>
  </thead>
  <tbody>
    <tr><th>0</th><td>APOE</td><td>0.001</td></tr>
    <tr><th>1</th><td>TREM2</td><td>0.004</td></tr>
  </tbody>
</table>
<p>2 rows &times; 2 columns</p>
</div>`

// TestHTML_DataFrame renders a pandas table as a grid and keeps trailing text.
func TestHTML_DataFrame(t *testing.T) {
	out := HTML(dataFrameHTML)
	for _, want := range []string{"gene", "pval", "APOE", "0.004", "TREM2", "2 rows × 2 columns"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<td>") || strings.Contains(out, "<p>") {
		t.Errorf("markup leaked:\n%s", out)
	}
	// header row is printed before the data rows
	if strings.Index(out, "gene") > strings.Index(out, "APOE") {
		t.Errorf("header should precede rows:\n%s", out)
	}
}

func TestHTML_PlainMarkup(t *testing.T) {
	out := HTML("<p>Hello <b>world</b></p>\n\n<script>alert(1)</script>")
	if out != "Hello world" {
		t.Errorf("got %q", out)
	}
}

func TestTableCells_HeaderlessTable(t *testing.T) {
	out := HTML("<table><tr><td>a</td><td>b</td></tr><tr><td>c</td><td>d</td></tr></table>")
	for _, want := range []string{"a", "b", "c", "d"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

// Plots arrive as HTML wrapping a base64 PNG; they must not render empty.
func TestHTML_InlineImage(t *testing.T) {
	png := strings.Repeat("iVBORw0KGgoAAAANSUhEUgAA", 100) // 2400 chars, 1800 bytes
	out := HTML(`<img src="data:image/png;base64,` + png + `" />`)
	if out != "[image/png, 1.8 kB]" {
		t.Errorf("got %q", out)
	}

	b := Item(notebook.HTMLOutput{Content: `<div><p>Volcano plot</p><img src="data:image/svg+xml;base64,PHN2Zz4="></div>`}, Options{})
	if !strings.Contains(b.Body, "[image/svg+xml,") || !strings.Contains(b.Body, "Volcano plot") {
		t.Errorf("body = %q", b.Body)
	}
}

func TestHTML_LinkedImageUsesAlt(t *testing.T) {
	if out := HTML(`<img src="plot.png" alt="UMAP">`); out != "[image: UMAP]" {
		t.Errorf("got %q", out)
	}
}
