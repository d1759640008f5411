package campaign

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) (*bolt.DB, func()) {
	tmpfile, err := os.CreateTemp("", "campaign_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	db, err := bolt.Open(tmpfile.Name(), 0600, nil)
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to open db: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpfile.Name())
	}

	return db, cleanup
}

func newTestStorage(t *testing.T) (*Storage, func()) {
	db, cleanup := setupTestDB(t)
	storage, err := NewStorage(db)
	if err != nil {
		cleanup()
		t.Fatalf("NewStorage() error = %v", err)
	}

	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	storage.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return storage, cleanup
}

func TestStorage_Create(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	c := &Campaign{Name: "Spring sale", TaskID: "86abc", Content: "| Section | Content |"}

	if err := storage.Create(ctx, c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.ID == "" {
		t.Error("Create() should assign an ID")
	}
	if c.CreatedAt.IsZero() || !c.CreatedAt.Equal(c.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", c.CreatedAt, c.UpdatedAt)
	}

	got, err := storage.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Spring sale" || got.Content != c.Content {
		t.Errorf("Get() = %+v", got)
	}

	byTask, err := storage.GetByTask(ctx, "86abc")
	if err != nil {
		t.Fatalf("GetByTask() error = %v", err)
	}
	if byTask.ID != c.ID {
		t.Errorf("GetByTask() ID = %s, want %s", byTask.ID, c.ID)
	}
}

func TestStorage_CreateValidation(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if err := storage.Create(ctx, &Campaign{}); err == nil {
		t.Error("Create() without name should fail")
	}

	storage.Create(ctx, &Campaign{Name: "one", TaskID: "t1"})
	err := storage.Create(ctx, &Campaign{Name: "two", TaskID: "t1"})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("Create() error = %v, want ErrDuplicateTask", err)
	}

	// campaigns without a task do not collide
	if err := storage.Create(ctx, &Campaign{Name: "a"}); err != nil {
		t.Errorf("Create() error = %v", err)
	}
	if err := storage.Create(ctx, &Campaign{Name: "b"}); err != nil {
		t.Errorf("Create() error = %v", err)
	}
}

func TestStorage_GetMissing(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := storage.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := storage.GetByTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByTask() error = %v, want ErrNotFound", err)
	}
}

func TestStorage_List(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	for _, name := range []string{"Spring sale", "Summer launch", "Spring recap"} {
		if err := storage.Create(ctx, &Campaign{Name: name}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all newest first", ListFilter{}, []string{"Spring recap", "Summer launch", "Spring sale"}},
		{"search", ListFilter{Search: "spring"}, []string{"Spring recap", "Spring sale"}},
		{"limit", ListFilter{Limit: 1}, []string{"Spring recap"}},
		{"offset", ListFilter{Offset: 2}, []string{"Spring sale"}},
		{"offset past end", ListFilter{Offset: 5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d campaigns, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if c.Name != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, c.Name, tt.want[i])
				}
			}
		})
	}
}

func TestStorage_Update(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	c := &Campaign{Name: "Launch", TaskID: "t1"}
	storage.Create(ctx, c)
	created := c.CreatedAt

	c.TaskID = "t2"
	c.Content = "| Section | Content |\n|---------|---------|\n| CTA | Buy |"
	if err := storage.Update(ctx, c); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !c.CreatedAt.Equal(created) || !c.UpdatedAt.After(created) {
		t.Errorf("timestamps after update = %v / %v", c.CreatedAt, c.UpdatedAt)
	}

	if _, err := storage.GetByTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old task index still present: %v", err)
	}
	got, err := storage.GetByTask(ctx, "t2")
	if err != nil {
		t.Fatalf("GetByTask() error = %v", err)
	}
	if got.Content != c.Content {
		t.Errorf("content = %q", got.Content)
	}

	other := &Campaign{Name: "Other", TaskID: "t3"}
	storage.Create(ctx, other)
	other.TaskID = "t2"
	if err := storage.Update(ctx, other); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("Update() error = %v, want ErrDuplicateTask", err)
	}

	if err := storage.Update(ctx, &Campaign{ID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestStorage_Delete(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	c := &Campaign{Name: "Launch", TaskID: "t1"}
	storage.Create(ctx, c)

	if err := storage.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := storage.Get(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if _, err := storage.GetByTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("task index survived delete: %v", err)
	}
	if err := storage.Delete(ctx, c.ID); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}

	// task id is free again
	if err := storage.Create(ctx, &Campaign{Name: "Again", TaskID: "t1"}); err != nil {
		t.Errorf("Create() after delete error = %v", err)
	}
}

func TestStorage_Count(t *testing.T) {
	storage, cleanup := newTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := storage.Create(ctx, &Campaign{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := storage.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v, want 3", n, err)
	}
}
