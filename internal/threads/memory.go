package threads

import (
	"context"
	"sync"
)

// MemoryStore keeps the mapping in process memory; suitable for a single instance and tests
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[int64]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[int64]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, chatID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threadID, ok := s.threads[chatID]
	if !ok {
		return "", ErrNotFound
	}
	return threadID, nil
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, chatID int64, threadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.threads[chatID]; ok {
		return existing, nil
	}
	s.threads[chatID] = threadID
	return threadID, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
