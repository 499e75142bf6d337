// Package queue provides the Redis-backed durable work queue and the
// worker pool that drains it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoWorkAvailable indicates every registered queue is empty.
var ErrNoWorkAvailable = errors.New("no work available")

// HandlerFunc processes one queued work item. Handlers must tolerate
// redelivery: the queue is at-least-once and correctness lives in the
// task state machine, not in the broker.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Item is one unit of queued work.
type Item struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// PoolHealth is a snapshot of the worker pool.
type PoolHealth struct {
	IsHealthy     bool             `json:"is_healthy"`
	BrokerError   string           `json:"broker_error,omitempty"`
	ActiveWorkers int              `json:"active_workers"`
	TotalWorkers  int              `json:"total_workers"`
	QueueDepths   map[string]int64 `json:"queue_depths"`
	WorkerStats   []WorkerHealth   `json:"worker_stats"`
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a snapshot of one worker.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentKind    string       `json:"current_kind,omitempty"`
	ItemsProcessed int          `json:"items_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}
