// Package inline converts the inline markup stored in table cells (**bold**,
// *italic*, **_both_**, [text](url)) to HTML and back. Both table codecs use it
// so the two directions cannot drift apart.
package inline

import (
	"html"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	boldMarker   = "**"
	italicMarker = "*"
)

// Order matters: combined markers must be replaced before bold, bold before italic.
var toHTMLRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`), `<a href="$2">$1</a>`},
	{regexp.MustCompile(`\*\*_(.+?)_\*\*`), `<strong><em>$1</em></strong>`},
	{regexp.MustCompile(`\*\*\*(.+?)\*\*\*`), `<strong><em>$1</em></strong>`},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), `<strong>$1</strong>`},
	{regexp.MustCompile(`\*([^*\s](?:[^*]*[^*\s])?)\*`), `<em>$1</em>`},
	{regexp.MustCompile(`(^|[\s(])_([^_\s](?:[^_]*[^_\s])?)_($|[\s).,!?:;])`), `$1<em>$2</em>$3`},
}

// ToHTML escapes text for HTML and converts its inline markers to tags
func ToHTML(text string) string {
	out := html.EscapeString(text)
	for _, rule := range toHTMLRules {
		out = rule.pattern.ReplaceAllString(out, rule.repl)
	}
	return out
}

// FromHTML converts an HTML fragment back to inline markup
func FromHTML(fragment string) string {
	context := &nethtml.Node{Type: nethtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := nethtml.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return Collapse(fragment)
	}
	var b strings.Builder
	for _, n := range nodes {
		writeNode(&b, n)
	}
	return Collapse(b.String())
}

// Text returns the inline markup of the children of n, whitespace collapsed
func Text(n *nethtml.Node) string {
	var b strings.Builder
	writeChildren(&b, n)
	return Collapse(b.String())
}

// Collapse squeezes whitespace runs into single spaces and trims the ends
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func writeChildren(b *strings.Builder, n *nethtml.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(b, c)
	}
}

func writeNode(b *strings.Builder, n *nethtml.Node) {
	switch n.Type {
	case nethtml.TextNode:
		b.WriteString(n.Data)
		return
	case nethtml.ElementNode:
	default:
		writeChildren(b, n)
		return
	}

	switch n.DataAtom {
	case atom.Strong, atom.B:
		wrap(b, boldMarker, n)
	case atom.Em, atom.I:
		wrap(b, italicMarker, n)
	case atom.Br:
		b.WriteByte(' ')
	case atom.A:
		var inner strings.Builder
		writeChildren(&inner, n)
		text := Collapse(inner.String())
		href := attr(n, "href")
		if href == "" || text == "" {
			b.WriteString(inner.String())
			return
		}
		b.WriteString("[" + text + "](" + href + ")")
	case atom.P, atom.Div, atom.Li:
		writeChildren(b, n)
		b.WriteByte(' ')
	case atom.Script, atom.Style:
	default:
		writeChildren(b, n)
	}
}

// wrap surrounds the content of n with marker, keeping edge whitespace outside
// the markers so "<b> x </b>" becomes " **x** ".
func wrap(b *strings.Builder, marker string, n *nethtml.Node) {
	var inner strings.Builder
	writeChildren(&inner, n)
	s := inner.String()
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		b.WriteString(s)
		return
	}
	if strings.TrimLeft(s, " \t\r\n") != s {
		b.WriteByte(' ')
	}
	b.WriteString(marker + trimmed + marker)
	if strings.TrimRight(s, " \t\r\n") != s {
		b.WriteByte(' ')
	}
}

func attr(n *nethtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// PlainText drops the inline markers of text, keeping link targets in
// parentheses: "**Buy** [here](https://x)" becomes "Buy here (https://x)".
func PlainText(text string) string {
	context := &nethtml.Node{Type: nethtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := nethtml.ParseFragment(strings.NewReader(ToHTML(text)), context)
	if err != nil {
		return Collapse(text)
	}
	var b strings.Builder
	for _, n := range nodes {
		writePlain(&b, n)
	}
	return Collapse(b.String())
}

func writePlain(b *strings.Builder, n *nethtml.Node) {
	if n.Type == nethtml.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writePlain(b, c)
	}
	if n.Type == nethtml.ElementNode && n.DataAtom == atom.A {
		if href := attr(n, "href"); href != "" {
			b.WriteString(" (" + href + ")")
		}
	}
}
