package emailtable

import (
	"regexp"
	"strings"
)

const (
	// HeaderLine marks a structured email table; text without it holds no table
	HeaderLine = "| Section | Content |"
	// SeparatorLine is written under the header on serialisation
	SeparatorLine = "|---------|---------|"

	emptyCell = " "
)

var (
	separatorPattern = regexp.MustCompile(`^\|(\s*:?-+:?\s*\|)+$`)
	dashesPattern    = regexp.MustCompile(`^-+$`)
	newlinePattern   = regexp.MustCompile(`[\r\n]+`)
)

// Codec parses markdown tables, assigning row ids from its IDSource
type Codec struct {
	ids IDSource
}

// NewCodec creates a codec. A nil source falls back to UUIDSource.
func NewCodec(ids IDSource) *Codec {
	if ids == nil {
		ids = UUIDSource{}
	}
	return &Codec{ids: ids}
}

var defaultCodec = NewCodec(UUIDSource{})

// Parse parses markdown with UUID row ids
func Parse(markdown string) Table {
	return defaultCodec.Parse(markdown)
}

// HasTable reports whether text contains the structured table header
func HasTable(text string) bool {
	return strings.Contains(text, HeaderLine)
}

// Parse converts a markdown pipe-table into rows. Text without the header line
// is not an error, it simply holds no rows.
func (c *Codec) Parse(markdown string) Table {
	rows := Table{}
	if !HasTable(markdown) {
		return rows
	}

	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimSpace(raw)
		if line == HeaderLine || separatorPattern.MatchString(line) {
			continue
		}
		if len(line) < 2 || line[0] != '|' || line[len(line)-1] != '|' {
			continue
		}

		section, content := splitCells(line[1 : len(line)-1])
		if dashesPattern.MatchString(section) && (content == "" || dashesPattern.MatchString(content)) {
			continue
		}
		if section == "" {
			continue
		}

		rows = append(rows, Row{
			ID:      c.ids.NewID(),
			Section: section,
			Content: content,
		})
	}

	return rows
}

// splitCells splits a row body on its first unescaped pipe. Later pipes belong to
// the content cell.
func splitCells(inner string) (section, content string) {
	cut := firstPipe(inner)
	if cut < 0 {
		return unescapePipes(strings.TrimSpace(inner)), ""
	}
	section = unescapePipes(strings.TrimSpace(inner[:cut]))
	content = unescapePipes(strings.TrimSpace(inner[cut+1:]))
	return section, content
}

func firstPipe(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '|' && (i == 0 || s[i-1] != '\\') {
			return i
		}
	}
	return -1
}

func unescapePipes(s string) string {
	return strings.ReplaceAll(s, `\|`, "|")
}

// Serialize writes rows as the canonical markdown table. An empty table is the
// empty string.
func Serialize(t Table) string {
	if len(t) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderLine)
	b.WriteByte('\n')
	b.WriteString(SeparatorLine)
	for _, r := range t {
		b.WriteString("\n| ")
		b.WriteString(SanitizeCell(r.Section))
		b.WriteString(" | ")
		b.WriteString(SanitizeCell(r.Content))
		b.WriteString(" |")
	}
	return b.String()
}

// SanitizeCell makes a value safe for a single table cell: line breaks become a
// space, bare pipes are escaped, and an empty value becomes a single space so the
// row keeps its own line when read back.
func SanitizeCell(value string) string {
	value = newlinePattern.ReplaceAllString(value, " ")
	value = EscapePipes(value)
	value = strings.TrimSpace(value)
	if value == "" {
		return emptyCell
	}
	return value
}

// EscapePipes escapes every pipe that is not already escaped
func EscapePipes(s string) string {
	if !strings.Contains(s, "|") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' && (i == 0 || s[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
