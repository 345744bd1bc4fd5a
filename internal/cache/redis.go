package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowsentinel/backend/internal/validation"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares verdicts between server instances. Keys are namespaced
// by a generation counter: invalidation increments the counter, which
// orphans every existing entry at once, and orphaned entries age out
// through their TTL.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. prefix must not be empty.
func NewRedisCache(opts *redis.Options, prefix string, ttl time.Duration) (*RedisCache, error) {
	if prefix == "" {
		return nil, fmt.Errorf("cache prefix cannot be empty")
	}
	return &RedisCache{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
		ttl:    ttl,
	}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) generationKey() string {
	return c.prefix + ":generation"
}

func (c *RedisCache) entryKey(generation int64, key string) string {
	return fmt.Sprintf("%s:g%d:verdict:%s", c.prefix, generation, key)
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (validation.Verdict, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return validation.Verdict{}, false, err
	}
	data, err := c.rdb.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return validation.Verdict{}, false, nil
	}
	if err != nil {
		return validation.Verdict{}, false, fmt.Errorf("failed to read verdict from Redis: %w", err)
	}
	var verdict validation.Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		return validation.Verdict{}, false, fmt.Errorf("failed to decode cached verdict: %w", err)
	}
	return verdict, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, verdict validation.Verdict) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	if err := c.rdb.Set(ctx, c.entryKey(gen, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write verdict to Redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("failed to advance cache generation: %w", err)
	}
	return nil
}
