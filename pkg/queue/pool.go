package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scoutline/scoutline/pkg/config"
)

// WorkerPool manages a pool of queue workers sharing one handler registry.
type WorkerPool struct {
	queue    *Queue
	config   *config.QueueConfig
	handlers map[string]HandlerFunc
	kinds    []string
	workers  []*Worker
	started  bool
}

// NewWorkerPool creates a new worker pool over the queue.
func NewWorkerPool(q *Queue, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		queue:    q,
		config:   cfg,
		handlers: make(map[string]HandlerFunc),
		workers:  make([]*Worker, 0, cfg.WorkerCount),
	}
}

// Register binds a handler to a work kind. Must be called before Start;
// registering a kind twice panics, as does registering after Start.
func (p *WorkerPool) Register(kind string, handler HandlerFunc) {
	if p.started {
		panic("queue: Register called after Start")
	}
	if _, dup := p.handlers[kind]; dup {
		panic(fmt.Sprintf("queue: duplicate handler for kind %q", kind))
	}
	p.handlers[kind] = handler
	p.kinds = append(p.kinds, kind)
}

// Kinds returns the registered work kinds in registration order.
func (p *WorkerPool) Kinds() []string {
	out := make([]string, len(p.kinds))
	copy(out, p.kinds)
	return out
}

// Start requeues orphaned items from a previous run, then spawns the
// worker goroutines. It is safe to call multiple times; subsequent calls
// are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	if len(p.kinds) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	p.started = true

	if err := p.queue.RequeueOrphans(ctx, p.kinds); err != nil {
		return fmt.Errorf("failed to requeue orphans: %w", err)
	}

	slog.Info("Starting worker pool",
		"worker_count", p.config.WorkerCount, "kinds", len(p.kinds))

	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.queue, p.config, p.kinds, p.handlers)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current items (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	var wg sync.WaitGroup
	for _, worker := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Stop()
		}()
	}
	wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	depths := make(map[string]int64, len(p.kinds))
	var brokerErr error
	for _, kind := range p.kinds {
		n, err := p.queue.Depth(ctx, kind)
		if err != nil {
			brokerErr = err
			break
		}
		if n > 0 {
			depths[kind] = n
		}
	}
	if brokerErr != nil {
		slog.Error("Failed to query queue depths for health check", "error", brokerErr)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	health := &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && brokerErr == nil,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepths:   depths,
		WorkerStats:   workerStats,
	}
	if brokerErr != nil {
		health.BrokerError = brokerErr.Error()
	}
	return health
}
