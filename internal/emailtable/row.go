// Package emailtable models structured email copy as an ordered table of named
// sections and converts it to and from the canonical markdown pipe-table.
package emailtable

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Row is one named section of an email
type Row struct {
	ID      string `json:"id"`
	Section string `json:"section"`
	Content string `json:"content"`
}

// Table is the ordered list of rows of one email. Order is the email's section order.
type Table []Row

// Clone returns a copy that shares no backing array with t
func (t Table) Clone() Table {
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Pairs returns the (section, content) pairs of t, dropping ids
func (t Table) Pairs() [][2]string {
	out := make([][2]string, len(t))
	for i, r := range t {
		out[i] = [2]string{r.Section, r.Content}
	}
	return out
}

// IDSource hands out row identities. Implementations must never repeat a value.
type IDSource interface {
	NewID() string
}

// UUIDSource generates random v4 UUIDs
type UUIDSource struct{}

// NewID returns a new UUID string
func (UUIDSource) NewID() string {
	return uuid.New().String()
}

// Sequence is a monotonic counter source, mostly useful for deterministic tests
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence creates a counter source whose ids look like prefix1, prefix2, ...
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next id in the sequence
func (s *Sequence) NewID() string {
	return fmt.Sprintf("%s%d", s.prefix, s.n.Add(1))
}

// SectionKey normalises a section name for lookups: surrounding emphasis markers
// and whitespace are dropped, inner whitespace is collapsed and case is folded.
// "**Subject Line**" and "subject  line" share a key.
func SectionKey(name string) string {
	s := strings.TrimSpace(name)
	for {
		trimmed := strings.TrimSpace(strings.Trim(s, "*_"))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// FindSection returns the index of the first row whose section matches name, or -1
func FindSection(t Table, name string) int {
	key := SectionKey(name)
	for i, r := range t {
		if SectionKey(r.Section) == key {
			return i
		}
	}
	return -1
}

// FindSections returns the indexes of all rows whose section matches name
func FindSections(t Table, name string) []int {
	key := SectionKey(name)
	var idx []int
	for i, r := range t {
		if SectionKey(r.Section) == key {
			idx = append(idx, i)
		}
	}
	return idx
}

// Index returns the position of the row with the given id, or -1
func Index(t Table, id string) int {
	for i, r := range t {
		if r.ID == id {
			return i
		}
	}
	return -1
}
