package render

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	strictPolicy = bluemonday.StrictPolicy()
)

// HTML reduces rich HTML output to terminal text. Tables (pandas
// DataFrames) become bordered grids, inline data-URI images (matplotlib
// plots) become size placeholders, and everything else becomes plain text.
func HTML(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return plainText(content)
	}

	var tables []*html.Node
	collect(doc, atom.Table, &tables)

	var parts []string
	for _, t := range tables {
		headers, rows := tableCells(t)
		if len(headers) > 0 || len(rows) > 0 {
			parts = append(parts, renderTable(headers, rows))
		}
		t.Parent.RemoveChild(t)
	}

	var imgs []*html.Node
	collect(doc, atom.Img, &imgs)
	for _, img := range imgs {
		if ph := imgPlaceholder(img); ph != "" {
			parts = append(parts, ph)
		}
		img.Parent.RemoveChild(img)
	}

	var rest bytes.Buffer
	if err := html.Render(&rest, doc); err == nil {
		if txt := plainText(rest.String()); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

// imgPlaceholder describes an <img>. Inline base64 images get the same
// placeholder as image outputs; linked images show their alt text.
func imgPlaceholder(n *html.Node) string {
	var src, alt string
	for _, a := range n.Attr {
		switch a.Key {
		case "src":
			src = strings.TrimSpace(a.Val)
		case "alt":
			alt = strings.TrimSpace(a.Val)
		}
	}
	if rest, ok := strings.CutPrefix(src, "data:image/"); ok {
		if format, data, ok := strings.Cut(rest, ";base64,"); ok {
			return imagePlaceholder(notebook.ImageOutput{Format: format, Content: data})
		}
	}
	if alt != "" {
		return "[image: " + alt + "]"
	}
	if src != "" {
		return "[image]"
	}
	return ""
}

func plainText(content string) string {
	text := html.UnescapeString(strictPolicy.Sanitize(content))
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

// tableCells extracts header and body rows. Header rows come from <thead>,
// or from a leading row made only of <th> cells.
func tableCells(t *html.Node) (headers []string, rows [][]string) {
	var trs []*html.Node
	collect(t, atom.Tr, &trs)
	for _, tr := range trs {
		var cells []string
		allTH := true
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
				continue
			}
			if c.DataAtom == atom.Td {
				allTH = false
			}
			cells = append(cells, nodeText(c))
		}
		if len(cells) == 0 {
			continue
		}
		inHead := tr.Parent != nil && tr.Parent.DataAtom == atom.Thead
		if headers == nil && len(rows) == 0 && (inHead || allTH) {
			headers = cells
			continue
		}
		if inHead {
			// secondary header rows (index names) carry no data
			continue
		}
		rows = append(rows, cells)
	}
	return headers, rows
}

func collect(n *html.Node, a atom.Atom, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.DataAtom == a {
		*out = append(*out, n)
		if a == atom.Table {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, a, out)
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
