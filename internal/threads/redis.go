package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "voicebot:thread:"

// RedisStore shares the mapping between bot instances.
// A zero TTL keeps mappings until evicted by the server policy.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to the redis server described by a redis:// URL
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(chatID int64) string {
	return s.prefix + chatKey(chatID)
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (string, error) {
	threadID, err := s.client.Get(ctx, s.key(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read thread from redis: %w", err)
	}
	return threadID, nil
}

// PutIfAbsent uses SETNX so concurrent instances agree on a single winner
func (s *RedisStore) PutIfAbsent(ctx context.Context, chatID int64, threadID string) (string, error) {
	ok, err := s.client.SetNX(ctx, s.key(chatID), threadID, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to store thread in redis: %w", err)
	}
	if ok {
		return threadID, nil
	}
	return s.Get(ctx, chatID)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
