// Package render turns execution outputs into display blocks.
//
// Rendering is pure: it never touches controller state. The caller decides
// whether error blocks are explainable (a chat forwarder is configured).
package render

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

// Options controls rendering.
type Options struct {
	// CanExplain marks error blocks as explainable.
	CanExplain bool
	// Width truncates body lines to this many cells; 0 disables truncation.
	Width int
}

// Block is the rendered form of one output item.
type Block struct {
	Kind        string
	Title       string
	Body        string
	Explainable bool
}

// String renders the block as plain text, title first.
func (b Block) String() string {
	switch {
	case b.Title == "":
		return b.Body
	case b.Body == "":
		return b.Title
	default:
		return b.Title + "\n" + b.Body
	}
}

// Item renders a single output item.
func Item(item notebook.OutputItem, opts Options) Block {
	var b Block
	switch o := item.(type) {
	case notebook.StreamOutput:
		b = Block{Kind: o.Kind(), Body: o.Content}
		if o.Name == "stderr" {
			b.Title = "stderr"
		}
	case notebook.ErrorOutput:
		b = Block{
			Kind:        notebook.KindError,
			Title:       fmt.Sprintf("%s: %s", o.Name, o.Value),
			Body:        ansi.Strip(strings.Join(o.Traceback, "\n")),
			Explainable: opts.CanExplain,
		}
	case notebook.ImageOutput:
		b = Block{Kind: notebook.KindImage, Body: imagePlaceholder(o)}
	case notebook.HTMLOutput:
		b = Block{Kind: notebook.KindHTML, Body: HTML(o.Content)}
	case notebook.UnknownOutput:
		b = Block{Kind: o.Type, Body: fmt.Sprintf("[unsupported output type %q]", o.Type)}
	default:
		b = Block{Kind: "unknown", Body: fmt.Sprintf("[unsupported output %T]", item)}
	}
	if opts.Width > 0 {
		b.Title = truncate(b.Title, opts.Width)
		b.Body = truncate(b.Body, opts.Width)
	}
	return b
}

// Items renders outputs in order.
func Items(items []notebook.OutputItem, opts Options) []Block {
	blocks := make([]Block, 0, len(items))
	for _, it := range items {
		blocks = append(blocks, Item(it, opts))
	}
	return blocks
}

func imagePlaceholder(o notebook.ImageOutput) string {
	format := o.Format
	if format == "" {
		format = "png"
	}
	size := base64.RawStdEncoding.DecodedLen(len(strings.TrimRight(o.Content, "=")))
	return fmt.Sprintf("[image/%s, %s]", format, humanize.Bytes(uint64(size)))
}

func truncate(s string, width int) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.Contains(l, "\x1b[") {
			// styled table rows
			lines[i] = ansi.Truncate(l, width, "…")
			continue
		}
		if runewidth.StringWidth(l) > width {
			lines[i] = runewidth.Truncate(l, width, "…")
		}
	}
	return strings.Join(lines, "\n")
}
