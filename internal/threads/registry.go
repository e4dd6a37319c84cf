package threads

import (
	"context"
	"errors"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Creator creates remote conversation threads; *openai.Client satisfies it
type Creator interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
}

// Registry resolves the thread of a chat, creating it remotely on first access.
// Calls for the same chat are serialized so at most one remote thread is created per chat.
type Registry struct {
	store   Store
	creator Creator
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry(store Store, creator Creator, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		creator: creator,
		logger:  logger,
		locks:   make(map[int64]*keyLock),
	}
}

// EnsureThread returns the thread recorded for chatID, creating and recording one if needed
func (r *Registry) EnsureThread(ctx context.Context, chatID int64) (string, error) {
	unlock := r.lock(chatID)
	defer unlock()

	threadID, err := r.store.Get(ctx, chatID)
	if err == nil {
		return threadID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("failed to look up thread: %w", err)
	}

	thread, err := r.creator.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}

	stored, err := r.store.PutIfAbsent(ctx, chatID, thread.ID)
	if err != nil {
		return "", err
	}
	if stored != thread.ID {
		// Another instance recorded a thread first; the one we created is orphaned
		r.logger.Warn("Thread already recorded by another instance",
			zap.Int64("chat_id", chatID),
			zap.String("thread_id", stored),
			zap.String("orphan_thread_id", thread.ID),
		)
	} else {
		r.logger.Info("Thread created", zap.Int64("chat_id", chatID), zap.String("thread_id", stored))
	}
	return stored, nil
}

func (r *Registry) lock(chatID int64) func() {
	r.mu.Lock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &keyLock{}
		r.locks[chatID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, chatID)
		}
		r.mu.Unlock()
	}
}
