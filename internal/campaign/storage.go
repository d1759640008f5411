package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCampaigns = []byte("campaigns")
	bucketTasks     = []byte("campaign_tasks")
)

// Storage provides campaign storage operations
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStorage creates the campaign buckets if needed
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCampaigns); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign buckets: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Create stores a new campaign and assigns its ID
func (s *Storage) Create(ctx context.Context, c *Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)
		tasks := tx.Bucket(bucketTasks)

		if c.TaskID != "" && tasks.Get([]byte(c.TaskID)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, c.TaskID)
		}

		c.ID = uuid.New().String()
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		if err := campaigns.Put([]byte(c.ID), data); err != nil {
			return err
		}
		if c.TaskID != "" {
			return tasks.Put([]byte(c.TaskID), []byte(c.ID))
		}
		return nil
	})
}

// Get retrieves a campaign by ID
func (s *Storage) Get(ctx context.Context, id string) (*Campaign, error) {
	var c *Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		c = &Campaign{}
		return json.Unmarshal(data, c)
	})

	return c, err
}

// GetByTask retrieves the campaign bound to a tracker task
func (s *Storage) GetByTask(ctx context.Context, taskID string) (*Campaign, error) {
	var c *Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTasks).Get([]byte(taskID))
		if id == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketCampaigns).Get(id)
		if data == nil {
			return ErrNotFound
		}
		c = &Campaign{}
		return json.Unmarshal(data, c)
	})

	return c, err
}

// List returns campaigns ordered by creation time, newest first
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Campaign, error) {
	var all []*Campaign

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(c.Name), search) && !strings.Contains(strings.ToLower(c.TaskID), search) {
					return nil
				}
			}
			all = append(all, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

// Update replaces a stored campaign, keeping the task index in step
func (s *Storage) Update(ctx context.Context, c *Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)
		tasks := tx.Bucket(bucketTasks)

		existingData := campaigns.Get([]byte(c.ID))
		if existingData == nil {
			return ErrNotFound
		}
		var existing Campaign
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}

		if existing.TaskID != c.TaskID {
			if c.TaskID != "" && tasks.Get([]byte(c.TaskID)) != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateTask, c.TaskID)
			}
			if existing.TaskID != "" {
				if err := tasks.Delete([]byte(existing.TaskID)); err != nil {
					return err
				}
			}
			if c.TaskID != "" {
				if err := tasks.Put([]byte(c.TaskID), []byte(c.ID)); err != nil {
					return err
				}
			}
		}

		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = s.now()

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return campaigns.Put([]byte(c.ID), data)
	})
}

// Delete removes a campaign by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)

		data := campaigns.Get([]byte(id))
		if data == nil {
			return nil // Already deleted
		}
		var c Campaign
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		if c.TaskID != "" {
			if err := tx.Bucket(bucketTasks).Delete([]byte(c.TaskID)); err != nil {
				return err
			}
		}
		return campaigns.Delete([]byte(id))
	})
}

// Count returns the number of stored campaigns
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketCampaigns).Stats().KeyN
		return nil
	})
	return n, err
}
