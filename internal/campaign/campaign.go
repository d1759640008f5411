// Package campaign stores the campaigns whose email copy is edited, each bound
// to a task in the external tracker.
package campaign

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("campaign not found")
	ErrDuplicateTask = errors.New("campaign for task already exists")
)

// Campaign binds a named email campaign to a tracker task and caches its
// canonical markdown content
type Campaign struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	TaskID       string     `json:"task_id,omitempty"`
	Content      string     `json:"content"`
	Unsaved      bool       `json:"unsaved"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`
}

// ListFilter for filtering campaigns
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}
