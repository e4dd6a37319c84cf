package threads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var threadsBucket = []byte("threads")

// BoltStore keeps the mapping in a local BoltDB file so it survives restarts of a single instance
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open thread store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(threadsBucket)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create threads bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, chatID int64) (string, error) {
	var threadID string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(chatKey(chatID)))
		if v == nil {
			return ErrNotFound
		}
		threadID = string(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *BoltStore) PutIfAbsent(ctx context.Context, chatID int64, threadID string) (string, error) {
	stored := threadID
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadsBucket)
		key := []byte(chatKey(chatID))
		if v := b.Get(key); v != nil {
			stored = string(v)
			return nil
		}
		return b.Put(key, []byte(threadID))
	})
	if err != nil {
		return "", fmt.Errorf("failed to store thread: %w", err)
	}
	return stored, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
