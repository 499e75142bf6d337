// Package api exposes the HTTP surface: job submission, job status, and
// health probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/config"
	"github.com/scoutline/scoutline/pkg/database"
	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/queue"
	"github.com/scoutline/scoutline/pkg/version"
)

const probeTimeout = 5 * time.Second

// Store is the persistence surface the API consumes.
type Store interface {
	CreateJob(ctx context.Context, idea string) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListTasks(ctx context.Context, jobID uuid.UUID) ([]*models.Task, error)
}

// IdempotencyCache maps client idempotency keys to job IDs.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) string
	Put(ctx context.Context, key, jobID string)
}

// JobStarter kicks off the pipeline for a new job.
type JobStarter interface {
	StartJob(ctx context.Context, jobID uuid.UUID, idea string) error
}

// Pinger checks broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	store   Store
	cache   IdempotencyCache
	starter JobStarter
	db      *database.Client
	broker  Pinger
	pool    *queue.WorkerPool
	cfg     config.APIConfig
}

// NewServer creates the API server. cache may be nil to disable
// idempotency; db, broker, and pool may be nil in tests (readiness
// reports them as skipped).
func NewServer(st Store, cache IdempotencyCache, starter JobStarter, db *database.Client, broker Pinger, pool *queue.WorkerPool, cfg config.APIConfig) *Server {
	if st == nil || starter == nil {
		panic("api.NewServer: store and starter must not be nil")
	}
	return &Server{
		store:   st,
		cache:   cache,
		starter: starter,
		db:      db,
		broker:  broker,
		pool:    pool,
		cfg:     cfg,
	}
}

// Router builds the gin engine with all routes and middleware. Health
// endpoints are never gated by auth.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	router.GET("/health", s.Health)
	router.GET("/ready", s.Ready)

	research := router.Group("/")
	if s.cfg.AuthEnabled {
		research.Use(bearerAuth(s.cfg.SecretKey))
	}
	research.POST("/research", s.CreateResearch)
	research.GET("/research/:job_id", s.GetResearch)

	return router
}

// Health handles GET /health: liveness only, always 200.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"details": gin.H{"version": version.Full()},
	})
}

// Ready handles GET /ready: readiness of the database, the broker, and
// the worker pool. Any failing dependency degrades the response to 503.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	details := gin.H{}
	healthy := true

	if s.db != nil {
		dbHealth, err := s.db.Health(ctx)
		details["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	} else {
		details["database"] = "skipped"
	}

	if s.broker != nil {
		if err := s.broker.Ping(ctx); err != nil {
			details["redis"] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
		} else {
			details["redis"] = gin.H{"status": "healthy"}
		}
	} else {
		details["redis"] = "skipped"
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		details["workers"] = poolHealth
		if !poolHealth.IsHealthy {
			healthy = false
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "details": details})
}
