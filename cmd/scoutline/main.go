// Scoutline research server: provides the HTTP API, manages queue
// workers, and orchestrates the research pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scoutline/scoutline/pkg/agent"
	"github.com/scoutline/scoutline/pkg/api"
	"github.com/scoutline/scoutline/pkg/cache"
	"github.com/scoutline/scoutline/pkg/cleanup"
	"github.com/scoutline/scoutline/pkg/config"
	"github.com/scoutline/scoutline/pkg/database"
	"github.com/scoutline/scoutline/pkg/llm"
	"github.com/scoutline/scoutline/pkg/pipeline"
	"github.com/scoutline/scoutline/pkg/queue"
	"github.com/scoutline/scoutline/pkg/store"
	"github.com/scoutline/scoutline/pkg/tools"
	"github.com/scoutline/scoutline/pkg/vector"
	"github.com/scoutline/scoutline/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting scoutline", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs migrations)
	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Redis: queue broker + idempotency cache
	redisClient, err := cache.NewRedisClient(cfg.CacheURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis")

	// 4. LLM provider
	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	slog.Info("LLM provider initialized", "provider", cfg.LLM.Provider)

	// 5. Domain services
	st := store.New(dbClient)
	vectors := vector.New(dbClient, cfg.RAG.MinChunkLen)
	idempotency := cache.NewIdempotency(redisClient)

	tavily := tools.NewTavilyClient(cfg.Tools.WebSearchKey)
	webSearch := tools.NewWebSearch(tavily, provider, cfg.Tools.MaxContentLen)
	ragSearch := tools.NewRAGSearch(vectors, provider.Embed)
	researchTools := tools.NewSet(webSearch, ragSearch)
	contradictionTools := tools.NewSet(webSearch)

	runner := agent.NewRunner(provider, st, cfg.Tools.CallTimeout)

	// 6. Queue, pipeline, worker pool
	workQueue := queue.New(redisClient)
	pipe := pipeline.New(st, workQueue, runner, vectors, provider.Embed, researchTools, contradictionTools)

	pool := queue.NewWorkerPool(workQueue, cfg.Queue)
	pipe.Register(pool)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 7. Retention
	retention := cleanup.NewService(st, cfg.RetentionAge, 0)
	retention.Start(ctx)
	defer retention.Stop()

	// 8. HTTP server
	server := api.NewServer(st, idempotency, pipe, dbClient, workQueue, pool, cfg.API)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Scoutline started successfully", "workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain workers first, then the HTTP server.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, unfinished work will be requeued on restart")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
