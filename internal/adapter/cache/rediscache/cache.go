// Package rediscache implements the short-TTL cache port on Redis with
// tag-based invalidation. The cache is never authoritative; every reader
// tolerates ErrNotFound.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// Cache wraps a go-redis client.
type Cache struct {
	rdb *redis.Client
}

// New constructs a Cache over the given Redis address.
func New(addr, password string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// NewFromClient wraps an existing client (tests use miniredis here).
func NewFromClient(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Ping verifies connectivity for readiness checks.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=cache.ping: %w", err)
	}
	return nil
}

// GetJSON loads key into dst; ErrNotFound on a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("op=cache.get: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=cache.get: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("op=cache.get: %w", err)
	}
	return nil
}

// SetJSON stores val under key with ttl and registers key under each tag
// set so InvalidateTag can drop it later. Tag sets expire alongside the
// longest-lived member.
func (c *Cache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration, tags ...string) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, b, ttl)
	for _, tag := range tags {
		tk := tagKey(tag)
		pipe.SAdd(ctx, tk, key)
		pipe.Expire(ctx, tk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	return nil
}

// InvalidateTag deletes every key registered under tag and the tag set.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) error {
	tk := tagKey(tag)
	keys, err := c.rdb.SMembers(ctx, tk).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("op=cache.invalidate_tag: %w", err)
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("op=cache.invalidate_tag: %w", err)
		}
	}
	if err := c.rdb.Del(ctx, tk).Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate_tag: %w", err)
	}
	return nil
}

func tagKey(tag string) string { return "tag:" + tag }
