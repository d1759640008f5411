// Package editor holds the live editing state of a campaign's email copy:
// the parsed table, its version history and the unsaved-changes flag.
package editor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/foxzi/copymode/internal/aiedit"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/htmltable"
	"github.com/foxzi/copymode/internal/metrics"
)

// Surface is the contract every editor front end offers
type Surface interface {
	GetContent() string
	SetContent(content string)
}

// Sink persists content outside the process
type Sink interface {
	Push(ctx context.Context, key, content string) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, key, content string) error

// Push calls f
func (f SinkFunc) Push(ctx context.Context, key, content string) error {
	return f(ctx, key, content)
}

// Change describes one committed content change
type Change struct {
	Key     string
	Content string
	Kind    string
	Version history.Version
	// Versioned is false for undo, redo and view, which move through history
	// without adding to it.
	Versioned bool
}

// Edit kinds reported to listeners and metrics
const (
	KindSetContent = "set_content"
	KindAddRow     = "add_row"
	KindUpdateRow  = "update_row"
	KindRemoveRow  = "remove_row"
	KindReorder    = "reorder"
	KindSections   = "sections"
	KindPatch      = "patch"
	KindReplace    = "replace"
	KindRestore    = "restore"
	KindUndo       = "undo"
	KindRedo       = "redo"
	KindView       = "view"
)

// Options configures a Session
type Options struct {
	MaxVersions int
	IDs         emailtable.IDSource
	Now         func() time.Time
}

// Session is the editing state of one campaign. It is safe for concurrent use;
// change listeners run after the session lock is released.
type Session struct {
	mu        sync.Mutex
	key       string
	content   string
	table     emailtable.Table
	saved     string
	unsaved   bool
	hist      *history.History
	codec     *emailtable.Codec
	ids       emailtable.IDSource
	now       func() time.Time
	listeners []func(Change)
}

var _ Surface = (*Session)(nil)
var _ aiedit.Target = (*Session)(nil)

// NewSession creates an unbound session
func NewSession(opts Options) *Session {
	if opts.IDs == nil {
		opts.IDs = emailtable.UUIDSource{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		table: emailtable.Table{},
		hist:  history.New(history.Options{MaxVersions: opts.MaxVersions, IDs: opts.IDs, Now: opts.Now}),
		codec: emailtable.NewCodec(opts.IDs),
		ids:   opts.IDs,
		now:   opts.Now,
	}
}

// OnChange registers fn to be called after every committed change
func (s *Session) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load binds the session to key with content from the source of truth.
// A new key resets history to a single initial version. The same key keeps
// history and only replaces the content, which is then considered saved.
// It reports whether history was reset.
func (s *Session) Load(key, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	content = s.canonical(content)
	reset := s.hist.Bind(key, content)
	s.key = key
	s.setLocked(content)
	s.saved = content
	s.unsaved = false
	return reset
}

// Resume restores persisted history and the last known content
func (s *Session) Resume(snap history.Snapshot, content string, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.hist.Restore(snap); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	content = s.canonical(content)
	s.key = snap.Key
	s.setLocked(content)
	s.saved = content
	s.unsaved = dirty
	return nil
}

// Key returns the bound campaign key
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// GetContent returns the canonical markdown
func (s *Session) GetContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// SetContent replaces the content with markdown or an HTML table. It goes
// through the same path as any other user edit.
func (s *Session) SetContent(content string) {
	s.Commit(content, history.SourceUser, KindSetContent, "Edited content")
}

// Table returns a copy of the current rows
func (s *Session) Table() emailtable.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

// Dirty reports whether there are changes not yet saved
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

func (s *Session) dirtyLocked() bool {
	return s.unsaved || s.content != s.saved
}

// Commit is the single change path. Content is normalised and, when it holds
// a table, canonicalised before it is compared with the current content. An
// unchanged result records nothing and reports false.
func (s *Session) Commit(content string, source history.Source, kind, description string) (bool, error) {
	s.mu.Lock()
	return s.commitLocked(content, source, kind, description)
}

// commitLocked is Commit with the lock held. It releases the lock.
func (s *Session) commitLocked(content string, source history.Source, kind, description string) (bool, error) {
	if s.hist.State() == history.StateEmpty {
		s.mu.Unlock()
		return false, history.ErrNotBound
	}
	content = s.canonical(content)
	if content == s.content {
		s.mu.Unlock()
		return false, nil
	}
	s.setLocked(content)
	return s.recordLocked(source, kind, description)
}

func (s *Session) commitTable(t emailtable.Table, source history.Source, kind, description string) (bool, error) {
	if s.hist.State() == history.StateEmpty {
		s.mu.Unlock()
		return false, history.ErrNotBound
	}
	content := emailtable.Serialize(t)
	rows := readBack(t, s.codec.Parse(content))
	if content == s.content {
		s.table = rows
		s.mu.Unlock()
		return false, nil
	}
	s.content = content
	s.table = rows
	return s.recordLocked(source, kind, description)
}

// readBack returns the rows as parsed from their serialized form, keeping the
// ids of t when every row survived.
func readBack(t, parsed emailtable.Table) emailtable.Table {
	if len(parsed) != len(t) {
		return parsed
	}
	for i := range parsed {
		parsed[i].ID = t[i].ID
	}
	return parsed
}

// recordLocked adds the current content to history and releases the lock
func (s *Session) recordLocked(source history.Source, kind, description string) (bool, error) {
	v, err := s.hist.Add(s.content, source, description)
	if err != nil {
		s.mu.Unlock()
		return true, err
	}
	change := Change{Key: s.key, Content: s.content, Kind: kind, Version: v, Versioned: true}
	listeners := s.listeners
	rows := len(s.table)
	s.mu.Unlock()

	metrics.IncEdits(string(source), kind)
	metrics.ObserveTableRows(rows)
	notify(listeners, change)
	return true, nil
}

// AddRow appends row, or a placeholder when row is nil, and returns it
func (s *Session) AddRow(row *emailtable.Row) (emailtable.Row, error) {
	s.mu.Lock()
	t, err := emailtable.AddRow(s.table, s.ids, row)
	if err != nil {
		s.mu.Unlock()
		return emailtable.Row{}, err
	}
	id := t[len(t)-1].ID
	_, err = s.commitTable(t, history.SourceUser, KindAddRow, "Added section "+t[len(t)-1].Section)
	if err != nil {
		return emailtable.Row{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := emailtable.Index(s.table, id); i >= 0 {
		return s.table[i], nil
	}
	return emailtable.Row{}, fmt.Errorf("%w: %s", emailtable.ErrRowNotFound, id)
}

// UpdateRow changes the fields of the row identified by id
func (s *Session) UpdateRow(id string, upd emailtable.RowUpdate) error {
	s.mu.Lock()
	t, err := emailtable.UpdateRow(s.table, id, upd)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	_, err = s.commitTable(t, history.SourceUser, KindUpdateRow, "Edited section "+t[emailtable.Index(t, id)].Section)
	return err
}

// RemoveRow deletes the row identified by id
func (s *Session) RemoveRow(id string) error {
	s.mu.Lock()
	i := emailtable.Index(s.table, id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", emailtable.ErrRowNotFound, id)
	}
	section := s.table[i].Section
	_, err := s.commitTable(emailtable.RemoveRow(s.table, id), history.SourceUser, KindRemoveRow, "Removed section "+section)
	return err
}

// ReorderRows puts the rows in the order of ids, which must name every row once
func (s *Session) ReorderRows(ids []string) error {
	s.mu.Lock()
	t, err := emailtable.ReorderByID(s.table, ids)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	_, err = s.commitTable(t, history.SourceUser, KindReorder, "Reordered sections")
	return err
}

// ApplySections runs a batch of section operations. Nothing is committed
// unless every operation succeeds.
func (s *Session) ApplySections(ops []aiedit.SectionOp, description string) error {
	s.mu.Lock()
	t, err := aiedit.ApplySections(s.table, s.ids, ops)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if description == "" {
		description = "AI section edit"
	}
	_, err = s.commitTable(t, history.SourceAI, KindSections, description)
	return err
}

// ApplyPatch applies a raw text patch to the markdown. A failing patch leaves
// the content untouched.
func (s *Session) ApplyPatch(p aiedit.Patch, description string) error {
	if description == "" {
		description = "AI text edit"
	}

	s.mu.Lock()
	out, err := aiedit.ApplyPatch(s.content, p)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	_, err = s.commitLocked(out, history.SourceAI, KindPatch, description)
	return err
}

// ReplaceHTML takes a full regenerated table from the assistant
func (s *Session) ReplaceHTML(req aiedit.ReplaceRequest) aiedit.ReplaceResult {
	res := aiedit.EditEmail(req, s.now())
	if !res.Success {
		return res
	}
	description := req.Explanation
	if description == "" {
		description = "AI rewrite"
	}
	if _, err := s.Commit(req.UpdatedHTML, history.SourceAI, KindReplace, description); err != nil {
		return aiedit.ReplaceResult{Success: false, Error: err.Error(), Timestamp: res.Timestamp}
	}
	return res
}

// Undo moves one version back
func (s *Session) Undo() (history.Version, bool) {
	s.mu.Lock()
	v, ok := s.hist.Undo()
	return s.moveLocked(v, ok, KindUndo)
}

// Redo moves one version forward
func (s *Session) Redo() (history.Version, bool) {
	s.mu.Lock()
	v, ok := s.hist.Redo()
	return s.moveLocked(v, ok, KindRedo)
}

// View shows version i without adding to history
func (s *Session) View(i int) (history.Version, error) {
	s.mu.Lock()
	v, err := s.hist.GoTo(i)
	if err != nil {
		s.mu.Unlock()
		return history.Version{}, err
	}
	s.moveLocked(v, true, KindView)
	return v, nil
}

// Restore makes version i current by recording it as a new version
func (s *Session) Restore(i int) (history.Version, error) {
	s.mu.Lock()
	v, err := s.hist.GoTo(i)
	if err != nil {
		s.mu.Unlock()
		return history.Version{}, err
	}
	s.setLocked(v.Content)
	if _, err := s.recordLocked(history.SourceUser, KindRestore, "Restored version "+strconv.Itoa(i+1)); err != nil {
		return history.Version{}, err
	}
	cur, _ := s.Current()
	return cur, nil
}

func (s *Session) moveLocked(v history.Version, ok bool, kind string) (history.Version, bool) {
	if !ok {
		s.mu.Unlock()
		return v, false
	}
	s.setLocked(v.Content)
	change := Change{Key: s.key, Content: s.content, Kind: kind, Version: v}
	listeners := s.listeners
	s.mu.Unlock()

	notify(listeners, change)
	return v, true
}

// Current returns the current history version
func (s *Session) Current() (history.Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Current()
}

// History describes the session's version list
func (s *Session) History() HistoryView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HistoryView{
		Key:      s.key,
		State:    s.hist.State(),
		Index:    s.hist.Index(),
		Versions: s.hist.Versions(),
		CanUndo:  s.hist.CanUndo(),
		CanRedo:  s.hist.CanRedo(),
		Dirty:    s.dirtyLocked(),
	}
}

// Snapshot captures history for persistence
func (s *Session) Snapshot() history.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Snapshot()
}

// Save pushes the current content to sink. On failure content, history and
// the unsaved flag are left as they were so the save can be retried.
func (s *Session) Save(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	key, content := s.key, s.content
	s.mu.Unlock()

	if err := sink.Push(ctx, key, content); err != nil {
		metrics.IncSaves("error")
		return err
	}
	metrics.IncSaves("ok")

	s.mu.Lock()
	s.saved = content
	s.unsaved = false
	s.mu.Unlock()
	return nil
}

// HistoryView is a read-only picture of a session's history
type HistoryView struct {
	Key      string            `json:"key"`
	State    history.State     `json:"state"`
	Index    int               `json:"index"`
	Versions []history.Version `json:"versions"`
	CanUndo  bool              `json:"can_undo"`
	CanRedo  bool              `json:"can_redo"`
	Dirty    bool              `json:"dirty"`
}

// canonical normalises HTML to markdown and rewrites tables in canonical form.
// Text with no table is kept verbatim.
func (s *Session) canonical(content string) string {
	content = htmltable.Normalize(content)
	if !emailtable.HasTable(content) {
		return content
	}
	return emailtable.Serialize(s.codec.Parse(content))
}

func (s *Session) setLocked(content string) {
	s.content = content
	s.table = s.codec.Parse(content)
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}
