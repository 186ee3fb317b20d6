// Package cache implements the prejoin hop cache. Every node owns one entry
// holding the items reached from it, per target type, so invalidating a node is a
// single delete.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/domain/registry"
)

const keyPrefix = "prejoin:"

// RedisClient is the subset of the go-redis client used by the cache.
type RedisClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache implements ports.PrejoinCache with one hash per node
type RedisCache struct {
	client RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache creates a new Redis-backed hop cache
func NewRedisCache(client RedisClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects to addr
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Compile-time interface check
var _ ports.PrejoinCache = (*RedisCache)(nil)

// Get returns the cached hop result, if any
func (c *RedisCache) Get(ctx context.Context, entityType, entityID, targetType string) ([]registry.PrejoinItem, bool, error) {
	raw, err := c.client.HGet(ctx, nodeKey(entityType, entityID), targetType).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("prejoin cache get: %w", err)
	}

	var items []registry.PrejoinItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		c.logger.Warn("Dropping unreadable prejoin cache entry",
			zap.String("key", nodeKey(entityType, entityID)),
			zap.Error(err),
		)
		return nil, false, nil
	}
	return items, true, nil
}

// Set stores a hop result and refreshes the node's expiry
func (c *RedisCache) Set(ctx context.Context, entityType, entityID, targetType string, items []registry.PrejoinItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("prejoin cache encode: %w", err)
	}

	key := nodeKey(entityType, entityID)
	if err := c.client.HSet(ctx, key, targetType, raw).Err(); err != nil {
		return fmt.Errorf("prejoin cache set: %w", err)
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			return fmt.Errorf("prejoin cache expire: %w", err)
		}
	}
	return nil
}

// InvalidateNode deletes every hop result of the node
func (c *RedisCache) InvalidateNode(ctx context.Context, entityType, entityID string) error {
	if err := c.client.Del(ctx, nodeKey(entityType, entityID)).Err(); err != nil {
		return fmt.Errorf("prejoin cache invalidate: %w", err)
	}
	return nil
}

func nodeKey(entityType, entityID string) string {
	return keyPrefix + keys.EntityPK(entityType, entityID)
}
