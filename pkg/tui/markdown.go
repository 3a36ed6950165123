package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderers caches one glamour renderer per wrap width.
var renderers = map[int]*glamour.TermRenderer{}

// renderMarkdown renders md wrapped at width columns. It falls back to the
// raw input when glamour fails.
func renderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	if width < 20 {
		width = 20
	}
	r, ok := renderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return md
		}
		renderers[width] = r
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	// Glamour pads with blank lines; trim for inline use
	return strings.Trim(out, "\n")
}
