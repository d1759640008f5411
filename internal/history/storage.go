package history

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketHistory = []byte("history")

// Storage persists history snapshots by campaign key
type Storage struct {
	db *bolt.DB
}

// NewStorage creates the history bucket if needed
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}
	return &Storage{db: db}, nil
}

// Save stores snap under its key, replacing any previous snapshot
func (s *Storage) Save(ctx context.Context, snap Snapshot) error {
	if snap.Key == "" {
		return fmt.Errorf("snapshot key is required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Put([]byte(snap.Key), data)
	})
}

// Load returns the snapshot for key, or nil when none was saved
func (s *Storage) Load(ctx context.Context, key string) (*Snapshot, error) {
	var snap *Snapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHistory).Get([]byte(key))
		if data == nil {
			return nil
		}
		snap = &Snapshot{}
		return json.Unmarshal(data, snap)
	})

	return snap, err
}

// Delete removes the snapshot for key
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Delete([]byte(key))
	})
}
