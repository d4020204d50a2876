// Package cache stores JSON values in Redis. A Cache built without a client
// is a no-op, so callers never branch on whether Redis is configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to every key written by this package.
const KeyPrefix = "feedbackhub:cache:"

type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Enabled reports whether a Redis client backs the cache.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get decodes the value stored under key into dest. A miss returns false
// without error.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	val, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, KeyPrefix+key, data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = KeyPrefix + k
	}
	return c.client.Del(ctx, prefixed...).Err()
}

// RateLimitPrefix namespaces the fixed-window counters used by Allow.
const RateLimitPrefix = "feedbackhub:ratelimit:"

// Allow counts one hit for key in a fixed window and reports whether the
// count is still within limit. The counter and its TTL are read in one
// transaction, and a counter found without a TTL gets one, so a lost EXPIRE
// cannot block a key forever. Without Redis, or when Redis fails, every hit
// is allowed.
func (c *Cache) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if !c.Enabled() {
		return true, 0, nil
	}
	k := RateLimitPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return true, 0, err
	}

	count := incr.Val()
	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			return true, count, err
		}
	}
	return count <= limit, count, nil
}
