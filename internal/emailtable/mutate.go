package emailtable

import (
	"errors"
	"fmt"
	"strings"
)

// PlaceholderSection names rows added without explicit values
const PlaceholderSection = "NEW SECTION"

var (
	// ErrRowNotFound is returned when no row carries the requested id
	ErrRowNotFound = errors.New("row not found")
	// ErrNotPermutation is returned when a reorder adds, drops or duplicates rows
	ErrNotPermutation = errors.New("new order is not a permutation of the table rows")
	// ErrEmptySection is returned for a row whose section name is blank. Such a
	// row cannot be written as a table line that reads back.
	ErrEmptySection = errors.New("section name must not be empty")
	// ErrInvalidRow is returned for a row the table grammar would skip when
	// read back, such as a section made only of dashes
	ErrInvalidRow = errors.New("row does not read back as a table row")
)

// ValidateRow checks that row survives a serialize and parse cycle as a row
func ValidateRow(row Row) error {
	if strings.TrimSpace(row.Section) == "" {
		return ErrEmptySection
	}
	if len(Parse(Serialize(Table{row}))) != 1 {
		return fmt.Errorf("%w: section %q", ErrInvalidRow, row.Section)
	}
	return nil
}

// RowUpdate holds the fields to change on a row. Nil fields are left alone.
type RowUpdate struct {
	Section *string `json:"section,omitempty"`
	Content *string `json:"content,omitempty"`
}

// UpdateRow returns a copy of t with the row identified by id changed
func UpdateRow(t Table, id string, upd RowUpdate) (Table, error) {
	i := Index(t, id)
	if i < 0 {
		return t, fmt.Errorf("%w: %s", ErrRowNotFound, id)
	}
	out := t.Clone()
	if upd.Section != nil {
		out[i].Section = *upd.Section
	}
	if upd.Content != nil {
		out[i].Content = *upd.Content
	}
	if err := ValidateRow(out[i]); err != nil {
		return t, fmt.Errorf("row %s: %w", id, err)
	}
	return out, nil
}

// ReorderRows replaces the order of t with order. The new order must hold
// exactly the ids of t, each once.
func ReorderRows(t Table, order Table) (Table, error) {
	if len(order) != len(t) {
		return t, fmt.Errorf("%w: have %d rows, got %d", ErrNotPermutation, len(t), len(order))
	}
	seen := make(map[string]bool, len(t))
	for _, r := range t {
		seen[r.ID] = false
	}
	for _, r := range order {
		used, ok := seen[r.ID]
		if !ok {
			return t, fmt.Errorf("%w: unknown row %q", ErrNotPermutation, r.ID)
		}
		if used {
			return t, fmt.Errorf("%w: duplicate row %q", ErrNotPermutation, r.ID)
		}
		seen[r.ID] = true
	}
	return order.Clone(), nil
}

// ReorderByID reorders t following a list of row ids
func ReorderByID(t Table, ids []string) (Table, error) {
	byID := make(map[string]Row, len(t))
	for _, r := range t {
		byID[r.ID] = r
	}
	order := make(Table, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return t, fmt.Errorf("%w: unknown row %q", ErrNotPermutation, id)
		}
		order = append(order, r)
	}
	return ReorderRows(t, order)
}

// AddRow appends row to t. A nil row appends a placeholder; a row without an id
// gets one from ids.
func AddRow(t Table, ids IDSource, row *Row) (Table, error) {
	return InsertRow(t, len(t), newRow(ids, row))
}

// InsertRow returns a copy of t with row inserted before index. The index is
// clamped to the table bounds.
func InsertRow(t Table, index int, row Row) (Table, error) {
	if err := ValidateRow(row); err != nil {
		return t, err
	}
	if index < 0 {
		index = 0
	}
	if index > len(t) {
		index = len(t)
	}
	out := make(Table, 0, len(t)+1)
	out = append(out, t[:index]...)
	out = append(out, row)
	out = append(out, t[index:]...)
	return out, nil
}

// RemoveRow returns t without the row identified by id. Removing the last row
// leaves an empty, non-nil table.
func RemoveRow(t Table, id string) Table {
	out := make(Table, 0, len(t))
	for _, r := range t {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

// RemoveAt returns t without the row at index
func RemoveAt(t Table, index int) Table {
	if index < 0 || index >= len(t) {
		return t.Clone()
	}
	out := make(Table, 0, len(t)-1)
	out = append(out, t[:index]...)
	return append(out, t[index+1:]...)
}

func newRow(ids IDSource, row *Row) Row {
	if ids == nil {
		ids = UUIDSource{}
	}
	if row == nil {
		return Row{ID: ids.NewID(), Section: PlaceholderSection}
	}
	r := *row
	if r.ID == "" {
		r.ID = ids.NewID()
	}
	return r
}
