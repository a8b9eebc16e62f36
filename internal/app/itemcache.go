/**
 * @description
 * Redis-backed cache for active listing inventories. Replaces the ad-hoc
 * in-process memoization the polling code would otherwise grow: the TTL and
 * invalidation are explicit, and the cache is injected into the snapshot
 * builder rather than attached to a function.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/stats-service/pkg/marketclient"
)

// RedisItemCache caches marketclient.ItemList values per account with a TTL.
type RedisItemCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisItemCache creates an item-list cache. A nil client yields a cache
// that always misses, so callers never need to branch on deployment shape.
func NewRedisItemCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisItemCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "sellerpulse:items"
	}
	return &RedisItemCache{client: client, prefix: trimmed, ttl: ttl}
}

func (c *RedisItemCache) key(accountID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, accountID)
}

// Get returns the cached item list for the account, or nil on a miss.
func (c *RedisItemCache) Get(ctx context.Context, accountID string) (*marketclient.ItemList, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	raw, err := c.client.Get(ctx, c.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var list marketclient.ItemList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("corrupt item cache entry: %w", err)
	}
	return &list, nil
}

// Set stores the item list under the configured TTL.
func (c *RedisItemCache) Set(ctx context.Context, accountID string, list marketclient.ItemList) error {
	if c == nil || c.client == nil {
		return nil
	}

	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(accountID), raw, c.ttl).Err()
}

// Invalidate drops the cached entry for the account.
func (c *RedisItemCache) Invalidate(ctx context.Context, accountID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(accountID)).Err()
}
