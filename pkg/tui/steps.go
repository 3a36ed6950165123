package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/cellpilot/pkg/pipeline"
)

// stepRow is the display state of a single step.
type stepRow struct {
	ID        string
	Title     string
	Status    pipeline.Status
	Executing bool
	Edited    bool
	Ready     bool
	// Execution is the pipeline counter of the step's last run; 0 if never run.
	Execution int
}

// stepsPanel renders the scrollable step list.
type stepsPanel struct {
	rows    []stepRow
	cursor  int
	offset  int
	focused bool
	width   int
	height  int
}

func newStepsPanel() stepsPanel {
	return stepsPanel{}
}

// SetRows replaces the displayed rows, keeping the cursor in range.
func (p *stepsPanel) SetRows(rows []stepRow) {
	p.rows = rows
	if p.cursor >= len(rows) {
		p.cursor = len(rows) - 1
	}
	if p.cursor < 0 {
		p.cursor = 0
	}
}

// CursorUp moves the cursor up and reports whether it moved.
func (p *stepsPanel) CursorUp() bool {
	if p.cursor > 0 {
		p.cursor--
		p.ensureVisible()
		return true
	}
	return false
}

// CursorDown moves the cursor down and reports whether it moved.
func (p *stepsPanel) CursorDown() bool {
	if p.cursor < len(p.rows)-1 {
		p.cursor++
		p.ensureVisible()
		return true
	}
	return false
}

// SelectedID returns the step ID at the cursor position.
func (p *stepsPanel) SelectedID() string {
	if p.cursor >= 0 && p.cursor < len(p.rows) {
		return p.rows[p.cursor].ID
	}
	return ""
}

func (p *stepsPanel) ensureVisible() {
	visible := p.height - 3
	if visible < 1 {
		visible = 1
	}
	if p.cursor < p.offset {
		p.offset = p.cursor
	}
	if p.cursor >= p.offset+visible {
		p.offset = p.cursor - visible + 1
	}
}

// glyph picks the status glyph and style for a row.
func (r stepRow) glyph() (string, lipgloss.Style) {
	switch {
	case r.Executing || r.Status == pipeline.Running:
		return GlyphRunning, stepRunning
	case r.Status == pipeline.Completed:
		return GlyphCompleted, stepPassed
	case r.Status == pipeline.Error:
		return GlyphFailed, stepFailed
	case !r.Ready:
		return GlyphBlocked, stepBlocked
	default:
		return GlyphPending, stepNormal
	}
}

// counter renders the execution counter the way notebooks show it.
func (r stepRow) counter() string {
	switch {
	case r.Executing:
		return "[*]"
	case r.Execution > 0:
		return fmt.Sprintf("[%d]", r.Execution)
	default:
		return "[ ]"
	}
}

// View renders the step list panel.
func (p *stepsPanel) View() string {
	border := panelBorder
	if p.focused {
		border = panelFocused
	}
	if len(p.rows) == 0 {
		return border.Width(p.width - 2).Height(p.height - 2).Render("  No steps loaded")
	}

	visible := p.height - 3
	if visible < 1 {
		visible = 1
	}
	end := min(p.offset+visible, len(p.rows))

	var lines []string
	for i := p.offset; i < end; i++ {
		row := p.rows[i]
		glyph, style := row.glyph()

		title := row.Title
		if title == "" {
			title = row.ID
		}
		mark := " "
		if row.Edited {
			mark = GlyphEdited
		}
		prefix := fmt.Sprintf(" %s %-5s%s", glyph, row.counter(), mark)
		maxTitle := p.width - runewidth.StringWidth(prefix) - 4
		if maxTitle < 4 {
			maxTitle = 4
		}
		line := prefix + runewidth.Truncate(title, maxTitle, "…")

		if i == p.cursor {
			line = style.Reverse(true).Render(line)
		} else {
			line = style.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < visible {
		lines = append(lines, "")
	}

	return border.Width(p.width - 2).Height(p.height - 2).Render(
		panelTitle.Render("Steps") + "\n" + strings.Join(lines, "\n"),
	)
}
