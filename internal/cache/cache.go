// Package cache provides a small keyed JSON cache on top of Redis.
// It is used for the statistics endpoints, which are read far more
// often than the ledger changes.  Writers invalidate the affected key
// synchronously after commit so readers never see counters older than
// the last recorded access.  A nil client disables caching entirely;
// every method then degrades to a miss or a no-op.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with a key prefix and a default TTL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a Cache.  Client may be nil, in which case the cache is
// permanently disabled.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "access"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// GetJSON loads the value stored under the key parts into dst.  It
// returns false on a miss, a disabled cache, or any Redis error;
// callers always fall back to the database.
func (c *Cache) GetJSON(ctx context.Context, dst any, parts ...string) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, c.key(parts...)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// SetJSON stores v under the key parts with the default TTL.  Errors
// are ignored; a failed write just means the next read is a miss.
func (c *Cache) SetJSON(ctx context.Context, v any, parts ...string) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(parts...), raw, c.ttl).Err()
}

// Invalidate removes the value stored under the key parts.
func (c *Cache) Invalidate(ctx context.Context, parts ...string) {
	if !c.Enabled() {
		return
	}
	_ = c.client.Del(ctx, c.key(parts...)).Err()
}

// InvalidateEventStats removes every cached statistics view for the
// event.  Called after each committed check-in, check-out and
// registration change.
func (c *Cache) InvalidateEventStats(ctx context.Context, eventID uint64) {
	id := strconv.FormatUint(eventID, 10)
	c.Invalidate(ctx, "stats", id)
	c.Invalidate(ctx, "stats", id, "inside")
}

// StatsKey returns the canonical key parts for an event's statistics
// view, exported so handlers and services agree on the naming.
func StatsKey(eventID uint64) []string {
	return []string{"stats", fmt.Sprintf("%d", eventID)}
}
