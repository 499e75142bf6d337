package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/scoutline/scoutline/pkg/config"
)

// Worker is a single queue worker that polls the registered kinds in a
// rotating order and processes one item at a time.
type Worker struct {
	id       string
	queue    *Queue
	config   *config.QueueConfig
	handlers map[string]HandlerFunc
	kinds    []string
	next     int
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentKind    string
	itemsProcessed int
	lastActivity   time.Time
}

// NewWorker creates a queue worker. kinds fixes the polling rotation;
// every kind must have a handler in handlers.
func NewWorker(id string, q *Queue, cfg *config.QueueConfig, kinds []string, handlers map[string]HandlerFunc) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		config:       cfg,
		handlers:     handlers,
		kinds:        kinds,
		next:         rand.IntN(max(len(kinds), 1)),
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentKind:    w.currentKind,
		ItemsProcessed: w.itemsProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoWorkAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing work item", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess tries each registered kind once, starting after the last
// kind that yielded work so no single queue can starve the others.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	for i := 0; i < len(w.kinds); i++ {
		kind := w.kinds[(w.next+i)%len(w.kinds)]
		item, raw, err := w.queue.claim(ctx, kind)
		if err != nil {
			if errors.Is(err, ErrNoWorkAvailable) {
				continue
			}
			return err
		}
		w.next = (w.next + i + 1) % len(w.kinds)
		w.process(ctx, kind, item, raw)
		return nil
	}
	return ErrNoWorkAvailable
}

// process runs the handler for a claimed item and always acks it: the
// state machines in the database own retries, not the broker. A crash
// before ack leaves the item on the processing list for startup requeue.
func (w *Worker) process(ctx context.Context, kind string, item *Item, raw string) {
	log := slog.With("worker_id", w.id, "kind", kind, "item_id", item.ID)
	log.Info("Work item claimed", "queued_for", time.Since(item.EnqueuedAt).Round(time.Millisecond))

	w.setStatus(WorkerStatusWorking, kind)
	defer w.setStatus(WorkerStatusIdle, "")

	handlerCtx, cancel := context.WithTimeout(ctx, w.config.HandlerTimeout)
	defer cancel()

	if err := w.runHandler(handlerCtx, kind, item); err != nil {
		log.Error("Handler failed", "error", err)
	} else {
		log.Info("Work item processed")
	}

	// Ack with a background context so shutdown cancellation cannot leave
	// a finished item on the processing list.
	w.queue.ack(context.Background(), kind, raw)

	w.mu.Lock()
	w.itemsProcessed++
	w.mu.Unlock()
}

// runHandler dispatches to the registered handler, converting panics to
// errors so one bad item cannot take down the worker.
func (w *Worker) runHandler(ctx context.Context, kind string, item *Item) (err error) {
	handler, ok := w.handlers[kind]
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, item.Payload)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, kind string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentKind = kind
	w.lastActivity = time.Now()
}
