// Package history keeps the linear undo/redo stack of a campaign's email copy.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/copymode/internal/emailtable"
)

// Source tells who produced a version
type Source string

const (
	SourceUser Source = "user"
	SourceAI   Source = "ai"
)

// InitialDescription labels the version a campaign's history starts from
const InitialDescription = "Initial version"

// State is the lifecycle position of a History
type State string

const (
	StateEmpty       State = "empty"
	StateInitialized State = "initialized"
	StateEdited      State = "edited"
)

var (
	ErrNotBound          = errors.New("history is not bound to a campaign")
	ErrVersionOutOfRange = errors.New("version index out of range")
)

// Version is an immutable snapshot of serialized content
type Version struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Source      Source    `json:"source"`
	Description string    `json:"description,omitempty"`
}

// Options configures a History
type Options struct {
	// MaxVersions caps the list length; the oldest versions are dropped first.
	// Zero means unlimited.
	MaxVersions int
	IDs         emailtable.IDSource
	Now         func() time.Time
}

// History is a single linear list of versions with a current index. Making a
// new version while rewound discards everything after the current index.
type History struct {
	key      string
	bound    bool
	versions []Version
	index    int
	opts     Options
}

// New creates an unbound history
func New(opts Options) *History {
	if opts.IDs == nil {
		opts.IDs = emailtable.UUIDSource{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &History{opts: opts}
}

// Bind attaches the history to a campaign. A different key resets the history
// to a single initial version holding content; the same key changes nothing.
// It reports whether a reset happened.
func (h *History) Bind(key, content string) bool {
	if h.bound && h.key == key {
		return false
	}
	h.key = key
	h.bound = true
	h.versions = []Version{h.newVersion(content, SourceUser, InitialDescription)}
	h.index = 0
	return true
}

// Key returns the bound campaign key
func (h *History) Key() string {
	return h.key
}

// State returns where the history is in its lifecycle
func (h *History) State() State {
	switch {
	case !h.bound:
		return StateEmpty
	case len(h.versions) <= 1:
		return StateInitialized
	default:
		return StateEdited
	}
}

// Add records content as the new current version
func (h *History) Add(content string, source Source, description string) (Version, error) {
	if !h.bound {
		return Version{}, ErrNotBound
	}
	v := h.newVersion(content, source, description)
	h.versions = append(h.versions[:h.index+1:h.index+1], v)
	h.index = len(h.versions) - 1
	h.trim()
	return v, nil
}

// Undo steps back one version. It reports false when already at the start.
func (h *History) Undo() (Version, bool) {
	if !h.CanUndo() {
		return Version{}, false
	}
	h.index--
	return h.versions[h.index], true
}

// Redo steps forward one version. It reports false when already at the tip.
func (h *History) Redo() (Version, bool) {
	if !h.CanRedo() {
		return Version{}, false
	}
	h.index++
	return h.versions[h.index], true
}

// GoTo moves the current index to i without changing the list
func (h *History) GoTo(i int) (Version, error) {
	if i < 0 || i >= len(h.versions) {
		return Version{}, fmt.Errorf("%w: %d (have %d)", ErrVersionOutOfRange, i, len(h.versions))
	}
	h.index = i
	return h.versions[i], nil
}

// CanUndo reports whether Undo would move
func (h *History) CanUndo() bool {
	return h.bound && h.index > 0
}

// CanRedo reports whether Redo would move
func (h *History) CanRedo() bool {
	return h.bound && h.index < len(h.versions)-1
}

// Current returns the version at the current index
func (h *History) Current() (Version, bool) {
	if !h.bound || len(h.versions) == 0 {
		return Version{}, false
	}
	return h.versions[h.index], true
}

// Index returns the current index
func (h *History) Index() int {
	return h.index
}

// Len returns the number of versions
func (h *History) Len() int {
	return len(h.versions)
}

// Versions returns a copy of the version list
func (h *History) Versions() []Version {
	out := make([]Version, len(h.versions))
	copy(out, h.versions)
	return out
}

func (h *History) newVersion(content string, source Source, description string) Version {
	return Version{
		ID:          h.opts.IDs.NewID(),
		Content:     content,
		Timestamp:   h.opts.Now(),
		Source:      source,
		Description: description,
	}
}

func (h *History) trim() {
	limit := h.opts.MaxVersions
	if limit <= 0 || len(h.versions) <= limit {
		return
	}
	drop := len(h.versions) - limit
	if drop > h.index {
		drop = h.index
	}
	h.versions = append([]Version(nil), h.versions[drop:]...)
	h.index -= drop
}
