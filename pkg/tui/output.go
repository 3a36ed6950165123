package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
	"github.com/ormasoftchile/cellpilot/pkg/render"
)

// outputKey identifies what the output panel currently shows, so the
// viewport is only rebuilt when the record actually changed.
type outputKey struct {
	stepID     string
	generation uint64
	executing  bool
	outputs    int
	explain    bool
}

// outputPanel renders the selected step's execution record.
type outputPanel struct {
	viewport viewport.Model
	shown    outputKey
	content  string

	highlightQuery string

	width  int
	height int
	ready  bool
}

func newOutputPanel() outputPanel {
	return outputPanel{}
}

// SetSize updates the viewport dimensions.
func (p *outputPanel) SetSize(width, height int) {
	p.width = width
	p.height = height

	contentW := max(width-4, 1)  // border + padding
	contentH := max(height-3, 1) // border + title

	if !p.ready {
		p.viewport = viewport.New(contentW, contentH)
		p.ready = true
	} else {
		p.viewport.Width = contentW
		p.viewport.Height = contentH
	}
	p.shown = outputKey{}
	p.refresh()
}

// ShowRecord renders rec unless it is already on screen.
func (p *outputPanel) ShowRecord(rec notebook.Record, canExplain bool) {
	key := outputKey{
		stepID:     rec.StepID,
		generation: rec.Generation,
		executing:  rec.Executing,
		outputs:    len(rec.Outputs),
		explain:    canExplain,
	}
	if key == p.shown {
		return
	}
	p.shown = key
	p.content = formatRecord(rec, render.Options{CanExplain: canExplain, Width: p.viewport.Width})
	p.refresh()
	if p.ready {
		p.viewport.GotoTop()
	}
}

// formatRecord lays out a record as styled blocks followed by its timing.
func formatRecord(rec notebook.Record, opts render.Options) string {
	if rec.Executing {
		return statusRunningStyle.Render("Executing…")
	}
	if rec.Outputs == nil {
		return keyDescStyle.Render("Not executed yet. Press ctrl+r to run.")
	}

	var b strings.Builder
	for _, block := range render.Items(rec.Outputs, opts) {
		b.WriteString(formatBlock(block))
		b.WriteString("\n")
	}
	if len(rec.Outputs) == 0 {
		b.WriteString(keyDescStyle.Render("(no output)") + "\n")
	}
	if rec.ExecutionTime > 0 {
		b.WriteString(timingStyle.Render(fmt.Sprintf("Executed in %s", rec.ExecutionTime.Round(time.Millisecond))))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBlock(block render.Block) string {
	switch block.Kind {
	case notebook.KindError:
		s := errorStyle.Render(block.Title)
		if block.Body != "" {
			s += "\n" + block.Body
		}
		if block.Explainable {
			s += "\n" + keyDescStyle.Render("press ") + keyStyle.Render("x") + keyDescStyle.Render(" to ask the assistant")
		}
		return s
	case notebook.KindStream:
		if block.Title != "" {
			return stderrStyle.Render(block.Body)
		}
		return block.Body
	}
	if block.Title == "" {
		return block.Body
	}
	return blockTitleStyle.Render(block.Title) + "\n" + block.Body
}

// Update handles viewport-specific messages (mouse scroll, etc.).
func (p *outputPanel) Update(msg tea.Msg) {
	if p.ready {
		p.viewport, _ = p.viewport.Update(msg)
	}
}

// PageUp scrolls the viewport up.
func (p *outputPanel) PageUp() {
	if p.ready {
		p.viewport.HalfViewUp()
	}
}

// PageDown scrolls the viewport down.
func (p *outputPanel) PageDown() {
	if p.ready {
		p.viewport.HalfViewDown()
	}
}

// SetHighlight sets the search highlight query and returns the match count.
func (p *outputPanel) SetHighlight(query string) int {
	p.highlightQuery = query
	return p.refresh()
}

// ClearHighlight removes search highlighting.
func (p *outputPanel) ClearHighlight() {
	p.highlightQuery = ""
	p.refresh()
}

func (p *outputPanel) refresh() int {
	if !p.ready {
		return 0
	}
	content, n := HighlightContent(p.content, p.highlightQuery)
	p.viewport.SetContent(content)
	return n
}

// View renders the output panel.
func (p *outputPanel) View() string {
	title := panelTitle.Render("Output")

	content := "  Waiting for a step..."
	if p.ready {
		content = p.viewport.View()
	}

	header := title
	if p.ready && p.viewport.TotalLineCount() > p.viewport.VisibleLineCount() {
		scroll := keyDescStyle.Render(fmt.Sprintf("%3.0f%%", p.viewport.ScrollPercent()*100))
		pad := max(p.width-4-lipgloss.Width(title)-lipgloss.Width(scroll), 0)
		header = title + strings.Repeat(" ", pad) + scroll
	}

	return panelBorder.Width(p.width - 2).Height(p.height - 2).Render(
		header + "\n" + content,
	)
}
