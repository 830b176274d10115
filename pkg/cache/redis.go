// Package cache provides the Redis-backed existence-check layer used by the
// dedup checker.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	committer "github.com/blockproofs/committer"
)

// DefaultKeyPrefix is the default Redis key prefix for committed-proof marks.
const DefaultKeyPrefix = "proofs"

var _ committer.CacheClient = (*RedisCache)(nil)

// RedisCache implements committer.CacheClient using Redis. Keys are
// namespaced under a prefix so several services can share one instance.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a Redis-backed cache client.
func NewRedisCache(address string, db int, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr: address,
			DB:   db,
		}),
		keyPrefix: keyPrefix,
	}
}

// NewRedisCacheWithClient wraps an existing client, used by tests running
// against miniredis or a shared pool.
func NewRedisCacheWithClient(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", key, err)
	}
	return n > 0, nil
}

func (c *RedisCache) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.buildKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}
