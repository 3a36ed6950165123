package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type chatLine struct {
	user bool
	text string
}

// chatPanel shows the conversation with the assistant and the input line.
type chatPanel struct {
	viewport viewport.Model
	input    textinput.Model
	lines    []chatLine
	// partial is the reply being streamed; it is moved to lines when done.
	partial   string
	streaming bool
	errText   string

	width  int
	height int
	ready  bool
}

func newChatPanel() chatPanel {
	ti := textinput.New()
	ti.Placeholder = "Ask the assistant..."
	ti.CharLimit = 4096
	ti.Prompt = "› "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	return chatPanel{input: ti}
}

func (c *chatPanel) SetSize(width, height int) {
	c.width = width
	c.height = height
	contentW := max(width-4, 1)
	contentH := max(height-4, 1) // border + title + input
	if !c.ready {
		c.viewport = viewport.New(contentW, contentH)
		c.ready = true
	} else {
		c.viewport.Width = contentW
		c.viewport.Height = contentH
	}
	c.input.Width = max(contentW-3, 1)
	c.refresh()
}

func (c *chatPanel) Focus() tea.Cmd { return c.input.Focus() }

func (c *chatPanel) Blur() { c.input.Blur() }

// Submit takes the input line, or "" when it is blank.
func (c *chatPanel) Submit() string {
	text := strings.TrimSpace(c.input.Value())
	c.input.Reset()
	return text
}

func (c *chatPanel) UpdateInput(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return cmd
}

// AddUser records a message sent to the assistant.
func (c *chatPanel) AddUser(text string) {
	c.lines = append(c.lines, chatLine{user: true, text: text})
	c.refresh()
}

// Begin starts a streamed reply.
func (c *chatPanel) Begin() {
	c.streaming = true
	c.partial = ""
	c.errText = ""
	c.refresh()
}

// AppendChunk adds a streamed fragment to the reply in progress.
func (c *chatPanel) AppendChunk(chunk string) {
	if !c.streaming {
		return
	}
	c.partial += chunk
	c.refresh()
}

// Finish ends the streamed reply. On error the partial reply is dropped.
func (c *chatPanel) Finish(reply string, err error) {
	c.streaming = false
	c.partial = ""
	if err != nil {
		c.errText = err.Error()
	} else {
		c.lines = append(c.lines, chatLine{text: reply})
	}
	c.refresh()
}

func (c *chatPanel) refresh() {
	if !c.ready {
		return
	}
	width := c.viewport.Width
	var parts []string
	for _, l := range c.lines {
		if l.user {
			parts = append(parts, chatUserStyle.Render("you: ")+lipgloss.NewStyle().Width(width-5).Render(l.text))
			continue
		}
		parts = append(parts, chatAssistantStyle.Render(renderMarkdown(l.text, width)))
	}
	if c.streaming {
		parts = append(parts, chatAssistantStyle.Width(width).Render(c.partial+"▍"))
	}
	if c.errText != "" {
		parts = append(parts, errorStyle.Render("chat error: "+c.errText))
	}
	c.viewport.SetContent(strings.Join(parts, "\n\n"))
	c.viewport.GotoBottom()
}

func (c *chatPanel) View(focused bool) string {
	border := panelBorder
	if focused {
		border = panelFocused
	}
	title := panelTitle.Render("Assistant")
	body := "  No assistant configured"
	if c.ready {
		body = c.viewport.View()
	}
	return border.Width(c.width - 2).Height(c.height - 2).Render(
		title + "\n" + body + "\n" + c.input.View(),
	)
}
