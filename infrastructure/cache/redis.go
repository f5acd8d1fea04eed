package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by RedisCache.Get when key isn't present or has
// expired.
var ErrMiss = errors.New("cache: miss")

// RedisCache is a distributed, JSON-marshaling cache-aside layer backed by
// Redis. Unlike Cache (process-local, used for the teacher's token cache),
// RedisCache is meant to be shared across every loomd instance in a
// deployment, so a lookup cached by one instance is visible to all of them.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client with a key prefix and default TTL. A nil
// client is valid and makes every operation a no-op miss, so callers can
// construct a RedisCache unconditionally and only skip it when redis isn't
// configured for the deployment.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get unmarshals the cached value for key into dst. Returns ErrMiss if
// absent, expired, or the cache has no backing client.
func (c *RedisCache) Get(ctx context.Context, key string, dst interface{}) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return ErrMiss
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrMiss
	}
	return nil
}

// Set marshals value as JSON and stores it under key with the cache's
// default TTL. Errors are swallowed: a failed cache write degrades to a
// store round-trip on the next read, never a request failure.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

// Delete evicts key, used to invalidate a cached lookup after the
// underlying row changes.
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, c.prefix+key).Err()
}
