package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// searchBar is an inline search field for the output panel.
type searchBar struct {
	active  bool
	input   textinput.Model
	query   string
	matches int
}

func newSearchBar() searchBar {
	ti := textinput.New()
	ti.Placeholder = "Search output..."
	ti.CharLimit = 256
	ti.Width = 40
	ti.Prompt = "/ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	return searchBar{input: ti}
}

// Open activates the search bar and focuses the text input.
func (s *searchBar) Open() tea.Cmd {
	s.active = true
	s.input.Reset()
	s.query = ""
	s.matches = 0
	return s.input.Focus()
}

// Close deactivates the search bar and drops the query.
func (s *searchBar) Close() {
	s.active = false
	s.input.Blur()
	s.query = ""
	s.matches = 0
}

// Update handles a key while the bar is active. closed is true after esc;
// on enter the query is kept and the bar stops taking input.
func (s *searchBar) Update(msg tea.KeyMsg) (closed bool, cmd tea.Cmd) {
	switch msg.String() {
	case "esc":
		s.Close()
		return true, nil
	case "enter":
		s.active = false
		s.input.Blur()
		return false, nil
	}
	s.input, cmd = s.input.Update(msg)
	s.query = s.input.Value()
	return false, cmd
}

func (s *searchBar) Query() string    { return s.query }
func (s *searchBar) IsActive() bool   { return s.active }
func (s *searchBar) HasQuery() bool   { return s.query != "" }
func (s *searchBar) SetMatches(n int) { s.matches = n }

// View renders the search bar, or "" when there is no search.
func (s *searchBar) View() string {
	if !s.active && !s.HasQuery() {
		return ""
	}
	result := keyDescStyle.Render("/" + s.query)
	if s.active {
		result = s.input.View()
	}
	switch {
	case s.matches == 1:
		result += "  " + lipgloss.NewStyle().Foreground(colorGreen).Render("1 match")
	case s.matches > 1:
		result += "  " + lipgloss.NewStyle().Foreground(colorGreen).Render(fmt.Sprintf("%d matches", s.matches))
	case s.HasQuery() && !s.active:
		result += "  " + lipgloss.NewStyle().Foreground(colorRed).Render("no matches")
	}
	return result
}

// HighlightContent returns content with case-insensitive matches of query
// highlighted, and the number of matches.
func HighlightContent(content, query string) (string, int) {
	if query == "" {
		return content, 0
	}
	lower := strings.ToLower(content)
	lowerQuery := strings.ToLower(query)
	count := strings.Count(lower, lowerQuery)
	if count == 0 || len(lower) != len(content) {
		// Case folding changed byte offsets; report matches without marking them.
		return content, count
	}

	highlight := lipgloss.NewStyle().
		Background(colorYellow).
		Foreground(lipgloss.Color("0")).
		Bold(true)

	var b strings.Builder
	rest, restLower := content, lower
	for {
		idx := strings.Index(restLower, lowerQuery)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		b.WriteString(highlight.Render(rest[idx : idx+len(lowerQuery)]))
		rest = rest[idx+len(lowerQuery):]
		restLower = restLower[idx+len(lowerQuery):]
	}
	return b.String(), count
}
