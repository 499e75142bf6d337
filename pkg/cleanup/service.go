// Package cleanup provides the data retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often retention runs.
const DefaultInterval = time.Hour

// JobDeleter removes terminal jobs older than the cutoff. Task, chunk,
// and agent-log rows follow via foreign-key cascade.
type JobDeleter interface {
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically deletes completed and failed jobs past their
// retention age. Idempotent and safe to run from multiple replicas.
type Service struct {
	store        JobDeleter
	retentionAge time.Duration
	interval     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention service. A zero retentionAge disables
// it; interval <= 0 selects the default.
func NewService(store JobDeleter, retentionAge, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{store: store, retentionAge: retentionAge, interval: interval}
}

// Start launches the background retention loop. No-op when retention is
// disabled or the service is already running.
func (s *Service) Start(ctx context.Context) {
	if s.retentionAge <= 0 || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"retention_age", s.retentionAge, "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.deleteExpiredJobs(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deleteExpiredJobs(ctx)
		}
	}
}

func (s *Service) deleteExpiredJobs(ctx context.Context) {
	cutoff := time.Now().Add(-s.retentionAge)
	count, err := s.store.DeleteTerminalJobsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: deleting expired jobs failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired jobs", "count", count)
	}
}
