package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis. Entries are written without TTL.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.redis.Get(ctx, key.namespaced(s.prefix)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(LayerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	CacheHits.WithLabelValues(LayerRedis).Inc()
	return data, nil
}

// Set stores an entry without expiration.
func (s *RedisStore) Set(ctx context.Context, key Key, data []byte) error {
	if len(data) == 0 {
		CacheErrors.WithLabelValues("set").Inc()
		return ErrEmptyEntry
	}

	created, err := s.redis.SetNX(ctx, key.namespaced(s.prefix), data, 0).Result()
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	// Images at a fixed URL are immutable; an existing entry is kept.
	if created {
		CacheEntries.WithLabelValues(LayerRedis).Inc()
		CacheSize.WithLabelValues(LayerRedis).Add(float64(len(data)))
	}
	return nil
}

// Len counts the keys under the store prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			CacheErrors.WithLabelValues("len").Inc()
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
