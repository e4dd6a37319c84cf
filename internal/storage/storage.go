package storage

import (
	"context"

	"voicebot/internal/models"
)

// Storage defines the interface for data storage operations
type Storage interface {
	// UpsertUserValue deletes every existing row matching (userID, value) and inserts
	// a fresh one stamped with the current time, so only the latest record survives
	UpsertUserValue(ctx context.Context, userID int64, value string) error

	// ListUserValues returns the values saved for a user, newest first
	ListUserValues(ctx context.Context, userID int64) ([]models.UserValue, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
