package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/htmltable"
	"github.com/foxzi/copymode/internal/metrics"
)

// ErrNoTask is returned when a campaign has no tracker task to sync with
var ErrNoTask = errors.New("campaign is not linked to a tracker task")

// CampaignStore is the campaign persistence the manager needs
type CampaignStore interface {
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	Update(ctx context.Context, c *campaign.Campaign) error
}

// HistoryStore persists history snapshots
type HistoryStore interface {
	Save(ctx context.Context, snap history.Snapshot) error
	Load(ctx context.Context, key string) (*history.Snapshot, error)
	Delete(ctx context.Context, key string) error
}

// Tracker is the external system holding the authoritative copy
type Tracker interface {
	GetDescription(ctx context.Context, taskID string) (string, error)
	UpdateDescription(ctx context.Context, taskID, markdown string) error
}

// Manager keeps one Session per open campaign and persists every change
type Manager struct {
	campaigns CampaignStore
	histories HistoryStore
	tracker   Tracker
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. tracker may be nil, in which case
// Pull and Save report ErrNoTask.
func NewManager(campaigns CampaignStore, histories HistoryStore, tracker Tracker, opts Options, logger *slog.Logger) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		campaigns: campaigns,
		histories: histories,
		tracker:   tracker,
		opts:      opts,
		logger:    logger.With("component", "editor"),
		sessions:  make(map[string]*Session),
	}
}

// Open returns the session for a campaign, loading it on first use. Persisted
// history is resumed when present.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	c, err := m.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s := NewSession(m.opts)
	snap, err := m.histories.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if snap != nil {
		if err := s.Resume(*snap, c.Content, c.Unsaved); err != nil {
			m.logger.Warn("discarding unreadable history", "campaign_id", id, "error", err)
			snap = nil
		}
	}
	if snap == nil {
		s.Load(id, c.Content)
		if err := m.histories.Save(ctx, s.Snapshot()); err != nil {
			return nil, fmt.Errorf("save history: %w", err)
		}
	}

	s.OnChange(func(ch Change) { m.persist(ch) })
	m.sessions[id] = s
	metrics.SetSessionsActive(len(m.sessions))

	m.logger.Debug("session opened", "campaign_id", id, "resumed", snap != nil)
	return s, nil
}

// Close drops the cached session of a campaign
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	metrics.SetSessionsActive(len(m.sessions))
	m.mu.Unlock()
}

// Forget closes the session and deletes its persisted history
func (m *Manager) Forget(ctx context.Context, id string) error {
	m.Close(id)
	return m.histories.Delete(ctx, id)
}

// Pull re-reads the campaign copy from the tracker. The campaign key does not
// change, so history is kept and the pulled content counts as saved.
func (m *Manager) Pull(ctx context.Context, id string) (*Session, error) {
	s, err := m.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := m.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.tracker == nil || c.TaskID == "" {
		return nil, ErrNoTask
	}

	content, err := m.tracker.GetDescription(ctx, c.TaskID)
	if err != nil {
		m.recordSync(ctx, c, err)
		return nil, fmt.Errorf("pull task %s: %w", c.TaskID, err)
	}

	s.Load(id, htmltable.Normalize(content))
	c.Content = s.GetContent()
	c.Unsaved = false
	m.recordSync(ctx, c, nil)

	m.logger.Info("campaign pulled", "campaign_id", id, "task_id", c.TaskID)
	return s, nil
}

// Save pushes the session's content to the tracker. A failed push leaves the
// session untouched and is recorded on the campaign as a sync error.
func (m *Manager) Save(ctx context.Context, id string) error {
	s, err := m.Open(ctx, id)
	if err != nil {
		return err
	}
	c, err := m.campaigns.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.tracker == nil || c.TaskID == "" {
		return ErrNoTask
	}

	err = s.Save(ctx, SinkFunc(func(ctx context.Context, _ string, content string) error {
		return m.tracker.UpdateDescription(ctx, c.TaskID, content)
	}))
	if err != nil {
		m.logger.Warn("save failed", "campaign_id", id, "task_id", c.TaskID, "error", err)
		m.recordSync(ctx, c, err)
		return fmt.Errorf("push task %s: %w", c.TaskID, err)
	}

	c.Content = s.GetContent()
	c.Unsaved = s.Dirty()
	m.recordSync(ctx, c, nil)

	m.logger.Info("campaign saved", "campaign_id", id, "task_id", c.TaskID)
	return nil
}

func (m *Manager) recordSync(ctx context.Context, c *campaign.Campaign, syncErr error) {
	if syncErr != nil {
		c.SyncError = syncErr.Error()
	} else {
		now := m.opts.Now()
		c.LastSyncedAt = &now
		c.SyncError = ""
	}
	if err := m.campaigns.Update(ctx, c); err != nil {
		m.logger.Error("failed to record sync state", "campaign_id", c.ID, "error", err)
	}
}

// persist writes the changed content and history. Failures are logged; the
// in-memory session stays authoritative until the next change.
func (m *Manager) persist(ch Change) {
	ctx := context.Background()

	m.mu.Lock()
	s := m.sessions[ch.Key]
	m.mu.Unlock()
	if s == nil {
		return
	}

	if err := m.histories.Save(ctx, s.Snapshot()); err != nil {
		m.logger.Error("failed to save history", "campaign_id", ch.Key, "error", err)
	}

	c, err := m.campaigns.Get(ctx, ch.Key)
	if err != nil {
		m.logger.Error("failed to load campaign", "campaign_id", ch.Key, "error", err)
		return
	}
	c.Content = ch.Content
	c.Unsaved = s.Dirty()
	if err := m.campaigns.Update(ctx, c); err != nil {
		m.logger.Error("failed to save campaign content", "campaign_id", ch.Key, "error", err)
	}
}
