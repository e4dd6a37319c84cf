package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"voicebot/internal/models"
)

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu     sync.RWMutex
	values []models.UserValue
	now    func() time.Time
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		values: make([]models.UserValue, 0),
		now:    time.Now,
	}
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// UpsertUserValue replaces prior identical (userID, value) rows with a fresh one
func (m *MockDB) UpsertUserValue(ctx context.Context, userID int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.values[:0]
	for _, v := range m.values {
		if v.UserID == userID && v.Value == value {
			continue
		}
		kept = append(kept, v)
	}
	m.values = append(kept, models.UserValue{
		UserID:    userID,
		Value:     value,
		CreatedAt: m.now().UTC(),
	})

	return nil
}

// ListUserValues returns the values of a user sorted by creation time descending
func (m *MockDB) ListUserValues(ctx context.Context, userID int64) ([]models.UserValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make([]models.UserValue, 0)
	for _, v := range m.values {
		if v.UserID == userID {
			values = append(values, v)
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		return values[i].CreatedAt.After(values[j].CreatedAt)
	})

	return values, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
