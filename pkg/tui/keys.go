package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds all TUI key bindings.
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Edit    key.Binding
	Leave   key.Binding
	Run     key.Binding
	RunAll  key.Binding
	Explain key.Binding
	Revert  key.Binding
	Copy    key.Binding
	Restart key.Binding
	Chat    key.Binding
	Send    key.Binding
	Search  key.Binding
	Quit    key.Binding
	PgUp    key.Binding
	PgDown  key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous step"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next step"),
	),
	Edit: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "edit"),
	),
	Leave: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "leave"),
	),
	Run: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "run"),
	),
	RunAll: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "run all"),
	),
	Explain: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "explain error"),
	),
	Revert: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "revert"),
	),
	Copy: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "copy code"),
	),
	Restart: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "restart kernel"),
	),
	Chat: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "chat"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	PgUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("PgUp", "scroll up"),
	),
	PgDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("PgDn", "scroll down"),
	),
}

func hint(k, desc string) string {
	return keyStyle.Render(k) + keyDescStyle.Render(":"+desc)
}

// keyBarText renders the key hints for the focused pane. The run hint is
// left out while the selected step is executing.
func keyBarText(f focus, runnable, canExplain bool) string {
	var parts []string
	switch f {
	case focusEditor:
		parts = append(parts, hint("esc", "leave editor"))
		if runnable {
			parts = append(parts, hint("ctrl+r", "run"))
		}
	case focusChat:
		parts = append(parts, hint("enter", "send"), hint("tab/esc", "back"), hint("ctrl+c", "quit"))
	default:
		parts = append(parts, hint("↑↓", "select"), hint("e", "edit"))
		if runnable {
			parts = append(parts, hint("ctrl+r", "run"))
		}
		parts = append(parts, hint("a", "run all"))
		if canExplain {
			parts = append(parts, hint("x", "explain"))
		}
		parts = append(parts,
			hint("u", "revert"),
			hint("y", "copy"),
			hint("R", "restart"),
			hint("tab", "chat"),
			hint("/", "search"),
			hint("q", "quit"),
		)
	}
	return strings.Join(parts, "  ")
}
