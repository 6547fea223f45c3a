package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
)

// ErrUnavailable is returned when the counter store cannot be reached.
// Callers must treat it differently from a missing counter: the ledger
// fails open on it.
var ErrUnavailable = errors.New("counter store unavailable")

// Counter is an atomic increment-and-read store with per-key expiry.
type Counter interface {
	// Incr increments key by one and returns the post-increment count.
	// The expiry applies from the first increment of the key's lifetime.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter backs the ledger with Redis INCR.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an already-connected client. The client lifecycle
// (open at startup, close at shutdown) belongs to the caller.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the key atomically. The TTL is attached when the
// increment created the key, so the counter dies at the window boundary
// no matter how many hits follow.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if n == 1 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			// Counted but not expiring; surface it so the ledger can log.
			return n, fmt.Errorf("%w: setting expiry: %v", ErrUnavailable, err)
		}
	}

	return n, nil
}

// MemoryCounter is an in-process counter for the memory storage mode and
// tests. Expiry is handled by go-cache's janitor.
type MemoryCounter struct {
	cache *cache.Cache
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Incr increments the key, creating it with the given TTL on first use.
// go-cache's Add is first-writer-wins, so a concurrent first hit falls
// through to Increment and is still counted.
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	_ = c.cache.Add(key, int64(0), ttl)

	n, err := c.cache.IncrementInt64(key, 1)
	if err != nil {
		// Expired between Add and Increment; restart the window.
		c.cache.Set(key, int64(1), ttl)
		return 1, nil
	}
	return n, nil
}
