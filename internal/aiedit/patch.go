package aiedit

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"
)

// PatchOpType is one of retain, delete or insert
type PatchOpType string

const (
	PatchRetain PatchOpType = "retain"
	PatchDelete PatchOpType = "delete"
	PatchInsert PatchOpType = "insert"
)

var (
	ErrTargetNotFound  = errors.New("target text not found")
	ErrPatchOutOfRange = errors.New("patch runs past the end of the document")
)

// PatchOp is a low-level edit instruction. Lengths count characters (runes).
type PatchOp struct {
	Type   PatchOpType `json:"type"`
	Length int         `json:"length,omitempty"`
	Value  string      `json:"value,omitempty"`
}

// Patch is an ordered batch of operations. When TargetText is set the cursor
// starts at its first occurrence, otherwise at the start of the document.
type Patch struct {
	TargetText string    `json:"target_text,omitempty"`
	Operations []PatchOp `json:"operations"`
}

// Step is a planned edit in coordinates of the unmodified document
type Step struct {
	Pos    int
	Delete int
	Insert string
}

// Plan resolves every operation of p to a position in the original document.
// Retain and delete move the cursor over original text; insert does not, so
// text inserted earlier in the batch never shifts later offsets.
func Plan(doc string, p Patch) ([]Step, error) {
	cursor := 0
	if p.TargetText != "" {
		idx := strings.Index(doc, p.TargetText)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, p.TargetText)
		}
		cursor = utf8.RuneCountInString(doc[:idx])
	}
	size := utf8.RuneCountInString(doc)

	var steps []Step
	for i, op := range p.Operations {
		switch op.Type {
		case PatchRetain, PatchDelete:
			if op.Length < 0 {
				return nil, fmt.Errorf("operation %d: negative length %d", i+1, op.Length)
			}
			if cursor+op.Length > size {
				return nil, fmt.Errorf("operation %d (%s %d at %d): %w", i+1, op.Type, op.Length, cursor, ErrPatchOutOfRange)
			}
			if op.Type == PatchDelete && op.Length > 0 {
				steps = append(steps, Step{Pos: cursor, Delete: op.Length})
			}
			cursor += op.Length
		case PatchInsert:
			if op.Value != "" {
				steps = append(steps, Step{Pos: cursor, Insert: op.Value})
			}
		default:
			return nil, fmt.Errorf("operation %d: %w: %q", i+1, ErrUnknownOperation, op.Type)
		}
	}
	return steps, nil
}

// ApplyPatch applies p to doc. Nothing is applied unless every operation plans
// successfully.
func ApplyPatch(doc string, p Patch) (string, error) {
	steps, err := Plan(doc, p)
	if err != nil {
		return doc, err
	}
	return applySteps([]rune(doc), steps, -1, 0), nil
}

// StreamPatch yields the intermediate states of applying p one inserted
// character at a time, ending with the fully patched document. Pacing is left
// to the caller.
func StreamPatch(doc string, p Patch) (iter.Seq[string], error) {
	steps, err := Plan(doc, p)
	if err != nil {
		return nil, err
	}
	runes := []rune(doc)
	return func(yield func(string) bool) {
		for k, s := range steps {
			n := utf8.RuneCountInString(s.Insert)
			if n == 0 {
				if !yield(applySteps(runes, steps[:k+1], -1, 0)) {
					return
				}
				continue
			}
			for c := 1; c <= n; c++ {
				if !yield(applySteps(runes, steps[:k+1], k, c)) {
					return
				}
			}
		}
	}, nil
}

// StreamInsert yields doc with text typed in at rune position pos one
// character at a time
func StreamInsert(doc string, pos int, text string) iter.Seq[string] {
	runes := []rune(doc)
	if pos < 0 {
		pos = 0
	}
	if pos > len(runes) {
		pos = len(runes)
	}
	steps := []Step{{Pos: pos, Insert: text}}
	n := utf8.RuneCountInString(text)
	return func(yield func(string) bool) {
		for c := 1; c <= n; c++ {
			if !yield(applySteps(runes, steps, 0, c)) {
				return
			}
		}
	}
}

// applySteps rebuilds the document from planned steps. When partial >= 0 the
// insert of that step is cut to its first limit characters.
func applySteps(doc []rune, steps []Step, partial, limit int) string {
	var b strings.Builder
	cursor := 0
	for k, s := range steps {
		b.WriteString(string(doc[cursor:s.Pos]))
		insert := s.Insert
		if k == partial {
			insert = string([]rune(insert)[:limit])
		}
		b.WriteString(insert)
		cursor = s.Pos + s.Delete
	}
	b.WriteString(string(doc[cursor:]))
	return b.String()
}
