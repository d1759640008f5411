// Package htmltable bridges the HTML table produced by rich-text editors and
// the canonical markdown table.
package htmltable

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/inline"
)

// ErrNoTable is returned when HTML input holds no <table> element
var ErrNoTable = errors.New("no table element found")

const (
	tableStyle  = "width:100%;border-collapse:collapse;font-family:Arial,sans-serif;"
	headerStyle = "border:1px solid #d0d7de;padding:8px 12px;background:#f6f8fa;text-align:left;font-weight:600;"
	sectionCell = "border:1px solid #d0d7de;padding:8px 12px;vertical-align:top;white-space:nowrap;font-weight:600;"
	contentCell = "border:1px solid #d0d7de;padding:8px 12px;vertical-align:top;"
)

// IsHTML reports whether content carries HTML table markup
func IsHTML(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<table") || strings.Contains(lower, "<tr")
}

// Normalize returns canonical markdown for content received from any editor
// surface. HTML tables are converted; anything else is returned untouched,
// including HTML the converter cannot read. A markdown table whose cells
// mention table tags is still markdown.
func Normalize(content string) string {
	if !IsHTML(content) || len(emailtable.Parse(content)) > 0 {
		return content
	}
	rows, err := defaultCodec.ToRows(content)
	if err != nil || len(rows) == 0 {
		return content
	}
	return emailtable.Serialize(rows)
}

// Codec converts HTML tables to rows with ids from its source
type Codec struct {
	md *emailtable.Codec
}

// NewCodec creates a codec backed by ids. A nil source uses UUIDs.
func NewCodec(ids emailtable.IDSource) *Codec {
	return &Codec{md: emailtable.NewCodec(ids)}
}

var defaultCodec = NewCodec(nil)

// ToMarkdown converts an HTML table to the canonical markdown table
func ToMarkdown(htmlContent string) (string, error) {
	rows, err := defaultCodec.ToRows(htmlContent)
	if err != nil {
		return "", err
	}
	return emailtable.Serialize(rows), nil
}

// ToRows reads body rows of the first <table> in htmlContent. Only <tbody>
// rows are read, so header rows in <thead> never become sections. Rows with
// fewer than two <td> cells are skipped.
func (c *Codec) ToRows(htmlContent string) (emailtable.Table, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	table := findElement(doc, atom.Table)
	if table == nil {
		return nil, ErrNoTable
	}

	var pairs [][2]string
	for body := table.FirstChild; body != nil; body = body.NextSibling {
		if body.Type != html.ElementNode || body.DataAtom != atom.Tbody {
			continue
		}
		for tr := body.FirstChild; tr != nil; tr = tr.NextSibling {
			if tr.Type != html.ElementNode || tr.DataAtom != atom.Tr {
				continue
			}
			cells := childElements(tr, atom.Td)
			if len(cells) < 2 {
				continue
			}
			section := inline.Text(cells[0])
			if section == "" {
				continue
			}
			pairs = append(pairs, [2]string{section, inline.Text(cells[1])})
		}
	}

	// Round through the markdown codec so ids and cell rules match parsed input.
	rows := emailtable.Table{}
	for _, p := range pairs {
		rows = append(rows, emailtable.Row{Section: p[0], Content: p[1]})
	}
	return c.md.Parse(emailtable.Serialize(rows)), nil
}

// FromMarkdown renders a markdown table as a styled HTML table. Input without a
// readable table is returned unchanged so no text is lost.
func FromMarkdown(markdown string) string {
	rows := emailtable.Parse(markdown)
	if len(rows) == 0 {
		return markdown
	}
	return Render(rows)
}

// Render writes rows as a styled HTML table
func Render(rows emailtable.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<table style="%s">`, tableStyle)
	b.WriteString("\n<thead><tr>")
	fmt.Fprintf(&b, `<th style="%s">Section</th><th style="%s">Content</th>`, headerStyle, headerStyle)
	b.WriteString("</tr></thead>\n<tbody>\n")
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr><td style="%s">%s</td><td style="%s">%s</td></tr>`,
			sectionCell, inline.ToHTML(r.Section), contentCell, inline.ToHTML(r.Content))
		b.WriteByte('\n')
	}
	b.WriteString("</tbody>\n</table>")
	return b.String()
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func childElements(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			out = append(out, c)
		}
	}
	return out
}
