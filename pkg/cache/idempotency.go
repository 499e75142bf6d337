// Package cache provides the Redis-backed idempotency key store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long an idempotency key maps to its job.
const TTL = 24 * time.Hour

const keyPrefix = "idempotency:"

// Idempotency maps client-supplied idempotency keys to job IDs.
// The cache is best-effort: failures degrade to cache misses and must
// never fail a request.
type Idempotency struct {
	client *redis.Client
}

// NewIdempotency wraps an existing Redis client.
func NewIdempotency(client *redis.Client) *Idempotency {
	if client == nil {
		panic("cache.NewIdempotency: client must not be nil")
	}
	return &Idempotency{client: client}
}

// Get returns the job ID cached under key, or "" on a miss. Redis errors
// are logged and reported as misses.
func (c *Idempotency) Get(ctx context.Context, key string) string {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Idempotency cache read failed, treating as miss", "error", err)
		}
		return ""
	}
	return val
}

// Put stores key → jobID with the standard TTL. Errors are logged and
// swallowed.
func (c *Idempotency) Put(ctx context.Context, key, jobID string) {
	if err := c.client.Set(ctx, keyPrefix+key, jobID, TTL).Err(); err != nil {
		slog.Warn("Idempotency cache write failed", "key", key, "error", err)
	}
}

// NewRedisClient parses the cache URL and returns a connected client.
func NewRedisClient(cacheURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(cacheURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache URL: %w", err)
	}
	return redis.NewClient(opts), nil
}
