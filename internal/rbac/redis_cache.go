package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares permission sets between replicas so an invalidation on
// one instance is seen by all of them.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading permission cache: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is a miss; the caller overwrites it.
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, entry CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding permission cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), raw, 0).Err(); err != nil {
		return fmt.Errorf("writing permission cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidating permission cache: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 500 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("invalidating permission cache: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning permission cache: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("invalidating permission cache: %w", err)
		}
	}
	return nil
}
