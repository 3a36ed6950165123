package tui

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// detailLines is how many description lines fit in the detail bar.
const detailLines = 2

// detailBar renders the selected step's description and the key hints.
type detailBar struct {
	width int
}

func newDetailBar() detailBar {
	return detailBar{}
}

// View renders the detail bar for row. flash, when set, replaces the
// description with a transient message.
func (d *detailBar) View(row stepRow, description, flash, keyBar string) string {
	inner := max(d.width-4, 10)

	var status string
	switch {
	case row.Executing:
		status = statusRunningStyle.Render(GlyphRunning + " executing")
	case row.Status == "completed":
		status = statusPassedStyle.Render(GlyphCompleted + " completed")
	case row.Status == "error":
		status = statusFailedStyle.Render(GlyphFailed + " failed")
	case !row.Ready:
		status = stepBlocked.Render(GlyphBlocked + " waiting on earlier steps")
	default:
		status = detailValueStyle.Render(GlyphPending + " pending")
	}
	line1 := detailLabelStyle.Render("Step: ") + detailValueStyle.Render(row.ID) +
		detailLabelStyle.Render(" │ ") + status
	if row.Edited {
		line1 += detailLabelStyle.Render(" │ ") + detailValueStyle.Render("edited")
	}

	var body []string
	switch {
	case flash != "":
		body = []string{flashStyle.Render(flash)}
	case strings.TrimSpace(description) != "":
		for _, l := range strings.Split(renderMarkdown(description, inner), "\n") {
			if strings.TrimSpace(ansi.Strip(l)) == "" {
				continue
			}
			body = append(body, ansi.Truncate(l, inner, "…"))
			if len(body) == detailLines {
				break
			}
		}
	}
	for len(body) < detailLines {
		body = append(body, "")
	}

	content := line1 + "\n" + strings.Join(body, "\n") + "\n" + keyBarStyle.Render(ansi.Truncate(keyBar, inner, "…"))
	return detailBarStyle.Width(d.width - 2).Render(content)
}
