package editor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/history"
)

type fakeTracker struct {
	descriptions map[string]string
	pushed       map[string]string
	err          error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{descriptions: map[string]string{}, pushed: map[string]string{}}
}

func (f *fakeTracker) GetDescription(ctx context.Context, taskID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.descriptions[taskID], nil
}

func (f *fakeTracker) UpdateDescription(ctx context.Context, taskID, markdown string) error {
	if f.err != nil {
		return f.err
	}
	f.pushed[taskID] = markdown
	return nil
}

type testEnv struct {
	db        *bolt.DB
	campaigns *campaign.Storage
	histories *history.Storage
	tracker   *fakeTracker
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "editor.db"), 0600, nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	campaigns, err := campaign.NewStorage(db)
	if err != nil {
		t.Fatalf("campaign.NewStorage() error = %v", err)
	}
	histories, err := history.NewStorage(db)
	if err != nil {
		t.Fatalf("history.NewStorage() error = %v", err)
	}
	return &testEnv{db: db, campaigns: campaigns, histories: histories, tracker: newFakeTracker()}
}

func (e *testEnv) manager() *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(e.campaigns, e.histories, e.tracker, Options{IDs: emailtable.NewSequence("r")}, logger)
}

func (e *testEnv) createCampaign(t *testing.T, taskID, content string) *campaign.Campaign {
	t.Helper()
	c := &campaign.Campaign{Name: "Spring sale", TaskID: taskID, Content: content}
	if err := e.campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

func TestManager_OpenCachesSession(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "t1", sample)
	m := env.manager()
	ctx := context.Background()

	s1, err := m.Open(ctx, c.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s2, _ := m.Open(ctx, c.ID)
	if s1 != s2 {
		t.Error("Open() should return the cached session")
	}
	if s1.GetContent() != sample || s1.Key() != c.ID {
		t.Errorf("session content=%q key=%s", s1.GetContent(), s1.Key())
	}

	if _, err := m.Open(ctx, "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("Open(missing) error = %v", err)
	}
}

func TestManager_PersistsChanges(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "t1", sample)
	ctx := context.Background()

	m := env.manager()
	s, _ := m.Open(ctx, c.ID)
	edited := strings.Replace(sample, "Buy", "Buy now", 1)
	s.SetContent(edited)

	stored, _ := env.campaigns.Get(ctx, c.ID)
	if stored.Content != edited || !stored.Unsaved {
		t.Errorf("stored campaign = %+v", stored)
	}

	// a fresh manager resumes history from storage
	m2 := env.manager()
	r, err := m2.Open(ctx, c.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(r.History().Versions) != 2 || !r.Dirty() {
		t.Errorf("resumed history = %+v", r.History())
	}
	if _, ok := r.Undo(); !ok || r.GetContent() != sample {
		t.Errorf("Undo() after resume content = %q", r.GetContent())
	}
}

func TestManager_Save(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "t1", sample)
	ctx := context.Background()
	m := env.manager()

	s, _ := m.Open(ctx, c.ID)
	edited := strings.Replace(sample, "Buy", "Buy now", 1)
	s.SetContent(edited)

	env.tracker.err = errors.New("503 from tracker")
	if err := m.Save(ctx, c.ID); err == nil {
		t.Fatal("Save() should fail when the tracker fails")
	}
	stored, _ := env.campaigns.Get(ctx, c.ID)
	if stored.SyncError == "" || stored.LastSyncedAt != nil {
		t.Errorf("sync state after failure = %+v", stored)
	}
	if !s.Dirty() || s.GetContent() != edited || len(s.History().Versions) != 2 {
		t.Error("failed save changed the session")
	}

	env.tracker.err = nil
	if err := m.Save(ctx, c.ID); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if env.tracker.pushed["t1"] != edited {
		t.Errorf("pushed = %q", env.tracker.pushed["t1"])
	}
	stored, _ = env.campaigns.Get(ctx, c.ID)
	if stored.SyncError != "" || stored.LastSyncedAt == nil || stored.Unsaved {
		t.Errorf("sync state after save = %+v", stored)
	}
	if s.Dirty() {
		t.Error("session still dirty after save")
	}
}

func TestManager_Pull(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "t1", sample)
	ctx := context.Background()
	m := env.manager()

	s, _ := m.Open(ctx, c.ID)
	s.SetContent(strings.Replace(sample, "Buy", "Local", 1))

	env.tracker.descriptions["t1"] = "<table><tr><td>CTA</td><td>Remote</td></tr></table>"
	if _, err := m.Pull(ctx, c.ID); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}

	want := "| Section | Content |\n|---------|---------|\n| CTA | Remote |"
	if s.GetContent() != want {
		t.Errorf("content after pull = %q", s.GetContent())
	}
	if len(s.History().Versions) != 2 {
		t.Error("Pull() should not reset history for the same campaign")
	}
	stored, _ := env.campaigns.Get(ctx, c.ID)
	if stored.Content != want || stored.Unsaved {
		t.Errorf("stored after pull = %+v", stored)
	}
}

func TestManager_NoTask(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "", sample)
	ctx := context.Background()
	m := env.manager()

	if err := m.Save(ctx, c.ID); !errors.Is(err, ErrNoTask) {
		t.Errorf("Save() error = %v, want ErrNoTask", err)
	}
	if _, err := m.Pull(ctx, c.ID); !errors.Is(err, ErrNoTask) {
		t.Errorf("Pull() error = %v, want ErrNoTask", err)
	}
}

func TestManager_Forget(t *testing.T) {
	env := setupEnv(t)
	c := env.createCampaign(t, "t1", sample)
	ctx := context.Background()
	m := env.manager()

	m.Open(ctx, c.ID)
	if err := m.Forget(ctx, c.ID); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if snap, _ := env.histories.Load(ctx, c.ID); snap != nil {
		t.Errorf("history survived Forget(): %+v", snap)
	}
}
