// Package aiedit holds the edit commands the assistant may issue against a
// campaign's email table: named section operations, a raw text patch for
// sub-section edits, and whole-table replacement.
package aiedit

import (
	"errors"
	"fmt"

	"github.com/foxzi/copymode/internal/emailtable"
)

// OpType names a section operation
type OpType string

const (
	OpAddSection    OpType = "add_section"
	OpRemoveSection OpType = "remove_section"
	OpMoveSection   OpType = "move_section"
	OpRenameSection OpType = "update_section_name"
	OpUpdateContent OpType = "update_section_content"
)

// Position places an added or moved section
type Position string

const (
	PositionStart  Position = "start"
	PositionEnd    Position = "end"
	PositionBefore Position = "before"
	PositionAfter  Position = "after"
)

var (
	ErrSectionNotFound  = errors.New("section not found")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidPosition  = errors.New("invalid position")
)

// SectionOp is one name-addressed edit. Section is matched against row section
// names ignoring case and emphasis markers. All applies remove, rename and
// update to every matching row instead of the first one.
type SectionOp struct {
	Type     OpType   `json:"type"`
	Section  string   `json:"section"`
	NewName  string   `json:"new_name,omitempty"`
	Content  string   `json:"content,omitempty"`
	Position Position `json:"position,omitempty"`
	Target   string   `json:"target,omitempty"`
	All      bool     `json:"all,omitempty"`
}

// ApplySections runs ops in order against t. The batch is all-or-nothing: on
// the first failing operation t is returned unchanged with the error.
func ApplySections(t emailtable.Table, ids emailtable.IDSource, ops []SectionOp) (emailtable.Table, error) {
	out := t.Clone()
	for i, op := range ops {
		next, err := applySection(out, ids, op)
		if err != nil {
			return t, fmt.Errorf("operation %d (%s %q): %w", i+1, op.Type, op.Section, err)
		}
		out = next
	}
	return out, nil
}

func applySection(t emailtable.Table, ids emailtable.IDSource, op SectionOp) (emailtable.Table, error) {
	if op.Section == "" {
		return t, fmt.Errorf("%w: empty section name", ErrSectionNotFound)
	}

	switch op.Type {
	case OpAddSection:
		at, err := insertionIndex(t, op.Position, op.Target)
		if err != nil {
			return t, err
		}
		row := emailtable.Row{Section: op.Section, Content: op.Content}
		return emailtable.InsertRow(t, at, rowWithID(ids, row))

	case OpRemoveSection:
		matches, err := lookup(t, op.Section, op.All)
		if err != nil {
			return t, err
		}
		for k := len(matches) - 1; k >= 0; k-- {
			t = emailtable.RemoveAt(t, matches[k])
		}
		return t, nil

	case OpMoveSection:
		from := emailtable.FindSection(t, op.Section)
		if from < 0 {
			return t, fmt.Errorf("%w: %q", ErrSectionNotFound, op.Section)
		}
		row := t[from]
		rest := emailtable.RemoveAt(t, from)
		at, err := insertionIndex(rest, op.Position, op.Target)
		if err != nil {
			return t, err
		}
		return emailtable.InsertRow(rest, at, row)

	case OpRenameSection:
		if op.NewName == "" {
			return t, fmt.Errorf("new_name is required for %s", op.Type)
		}
		if err := emailtable.ValidateRow(emailtable.Row{Section: op.NewName}); err != nil {
			return t, fmt.Errorf("new_name: %w", err)
		}
		matches, err := lookup(t, op.Section, op.All)
		if err != nil {
			return t, err
		}
		out := t.Clone()
		for _, i := range matches {
			out[i].Section = op.NewName
		}
		return out, nil

	case OpUpdateContent:
		matches, err := lookup(t, op.Section, op.All)
		if err != nil {
			return t, err
		}
		out := t.Clone()
		for _, i := range matches {
			out[i].Content = op.Content
		}
		return out, nil
	}

	return t, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
}

func lookup(t emailtable.Table, section string, all bool) ([]int, error) {
	if all {
		matches := emailtable.FindSections(t, section)
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, section)
		}
		return matches, nil
	}
	i := emailtable.FindSection(t, section)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, section)
	}
	return []int{i}, nil
}

func insertionIndex(t emailtable.Table, pos Position, target string) (int, error) {
	switch pos {
	case PositionStart:
		return 0, nil
	case PositionEnd, "":
		return len(t), nil
	case PositionBefore, PositionAfter:
		i := emailtable.FindSection(t, target)
		if i < 0 {
			return 0, fmt.Errorf("%w: target %q", ErrSectionNotFound, target)
		}
		if pos == PositionAfter {
			i++
		}
		return i, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, pos)
}

func rowWithID(ids emailtable.IDSource, row emailtable.Row) emailtable.Row {
	if ids == nil {
		ids = emailtable.UUIDSource{}
	}
	row.ID = ids.NewID()
	return row
}
