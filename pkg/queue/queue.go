package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is a durable FIFO work queue over Redis lists, one list per
// handler kind. Claimed items sit on a per-kind processing list until
// acked, which gives at-least-once delivery across process crashes.
type Queue struct {
	client *redis.Client
}

// New creates a Queue over an existing Redis client.
func New(client *redis.Client) *Queue {
	if client == nil {
		panic("queue.New: client must not be nil")
	}
	return &Queue{client: client}
}

func listKey(kind string) string       { return "queue:" + kind }
func processingKey(kind string) string { return "queue:" + kind + ":processing" }

// Enqueue pushes one work item for the given kind. Fire-and-forget from
// the caller's perspective; ordering across kinds is unspecified.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	item := Item{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}
	if err := q.client.LPush(ctx, listKey(kind), data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	return nil
}

// claim atomically moves the oldest item of the kind to its processing
// list and returns it along with the raw entry needed for ack.
func (q *Queue) claim(ctx context.Context, kind string) (*Item, string, error) {
	data, err := q.client.LMove(ctx, listKey(kind), processingKey(kind), "RIGHT", "LEFT").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrNoWorkAvailable
		}
		return nil, "", fmt.Errorf("failed to claim from %s: %w", kind, err)
	}
	var item Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		// Malformed entries are dropped from the processing list so they
		// cannot wedge the queue.
		_ = q.client.LRem(ctx, processingKey(kind), 1, data).Err()
		return nil, "", fmt.Errorf("failed to decode work item from %s: %w", kind, err)
	}
	return &item, data, nil
}

// ack removes a claimed item from the processing list.
func (q *Queue) ack(ctx context.Context, kind, raw string) {
	if err := q.client.LRem(ctx, processingKey(kind), 1, raw).Err(); err != nil {
		slog.Warn("Failed to ack work item", "kind", kind, "error", err)
	}
}

// Depth returns the number of pending items for a kind.
func (q *Queue) Depth(ctx context.Context, kind string) (int64, error) {
	n, err := q.client.LLen(ctx, listKey(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth for %s: %w", kind, err)
	}
	return n, nil
}

// RequeueOrphans moves items stranded on processing lists back onto the
// main lists. Called once at startup, before workers begin: items left
// behind by a crashed process are redelivered (at-least-once).
func (q *Queue) RequeueOrphans(ctx context.Context, kinds []string) error {
	for _, kind := range kinds {
		moved := 0
		for {
			_, err := q.client.LMove(ctx, processingKey(kind), listKey(kind), "RIGHT", "LEFT").Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return fmt.Errorf("failed to requeue orphans for %s: %w", kind, err)
			}
			moved++
		}
		if moved > 0 {
			slog.Warn("Requeued orphaned work items from previous run",
				"kind", kind, "count", moved)
		}
	}
	return nil
}

// Ping checks broker reachability.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
