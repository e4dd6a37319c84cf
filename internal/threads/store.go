// Package threads maps Telegram chats to assistant conversation threads.
package threads

import (
	"context"
	"errors"
	"strconv"
)

// ErrNotFound is returned when no thread is recorded for a chat
var ErrNotFound = errors.New("thread not found")

// Store persists the chat -> thread mapping
type Store interface {
	// Get returns the thread recorded for chatID or ErrNotFound
	Get(ctx context.Context, chatID int64) (string, error)

	// PutIfAbsent records threadID for chatID unless a mapping already exists.
	// It returns the mapping that is in effect after the call.
	PutIfAbsent(ctx context.Context, chatID int64, threadID string) (string, error)

	Close() error
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
