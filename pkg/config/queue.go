package config

import "time"

// QueueConfig contains work queue and worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica.
	// Each worker independently polls and processes queued work items.
	WorkerCount int

	// PollInterval is the base interval for checking the queues when idle.
	PollInterval time.Duration

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration

	// GracefulShutdownTimeout is the max time to wait for active handlers
	// to finish during shutdown.
	GracefulShutdownTimeout time.Duration
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      250 * time.Millisecond,
		HandlerTimeout:          10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// QueueConfigFromEnv returns the defaults overridden by environment
// variables where set.
func QueueConfigFromEnv() *QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.WorkerCount = getEnvInt("QUEUE_WORKER_COUNT", cfg.WorkerCount)
	cfg.PollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollIntervalJitter = getEnvDuration("QUEUE_POLL_JITTER", cfg.PollIntervalJitter)
	cfg.HandlerTimeout = getEnvDuration("QUEUE_HANDLER_TIMEOUT", cfg.HandlerTimeout)
	cfg.GracefulShutdownTimeout = getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", cfg.GracefulShutdownTimeout)
	return cfg
}
