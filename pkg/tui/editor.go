package tui

import (
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// editorPanel is the code editor for the selected step.
type editorPanel struct {
	area   textarea.Model
	stepID string
	width  int
	height int
}

func newEditorPanel() editorPanel {
	ta := textarea.New()
	ta.CharLimit = 1_000_000
	ta.Prompt = ""
	ta.ShowLineNumbers = true
	ta.Placeholder = "No code for this step."

	ta.FocusedStyle.Base = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorCyan)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle().Foreground(colorWhite)
	ta.BlurredStyle.Base = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorDim)
	ta.BlurredStyle.Text = lipgloss.NewStyle().Foreground(colorWhite)
	ta.Blur()
	return editorPanel{area: ta}
}

// SetSize resizes the editor, border included.
func (e *editorPanel) SetSize(width, height int) {
	e.width = width
	e.height = height
	e.area.SetWidth(max(width-2, 10))
	e.area.SetHeight(max(height-3, 1))
}

// Load shows src for stepID. The cursor is kept when the text is unchanged.
func (e *editorPanel) Load(stepID, src string) {
	if e.stepID == stepID && e.area.Value() == src {
		return
	}
	e.stepID = stepID
	e.area.SetValue(src)
}

func (e *editorPanel) Value() string { return e.area.Value() }

func (e *editorPanel) Focus() tea.Cmd { return e.area.Focus() }

func (e *editorPanel) Blur() { e.area.Blur() }

func (e *editorPanel) Focused() bool { return e.area.Focused() }

// Update feeds a key to the textarea and reports whether the text changed.
func (e *editorPanel) Update(msg tea.Msg) (bool, tea.Cmd) {
	before := e.area.Value()
	var cmd tea.Cmd
	e.area, cmd = e.area.Update(msg)
	return e.area.Value() != before, cmd
}

// View renders the editor with its title.
func (e *editorPanel) View(edited bool) string {
	title := "Code"
	if e.stepID != "" {
		title += " · " + e.stepID
	}
	if edited {
		title += " (edited)"
	}
	return panelTitle.Render(title) + "\n" + e.area.View()
}
