package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/pipeline"
	"github.com/scoutline/scoutline/pkg/store"
)

// minIdeaLen is the minimum number of visible characters in an idea.
const minIdeaLen = 5

// CreateResearchRequest is the body of POST /research.
type CreateResearchRequest struct {
	Idea string `json:"idea"`
}

// CreateResearch handles POST /research: validate, honour the
// idempotency key, create the job, and enqueue enrichment.
func (s *Server) CreateResearch(c *gin.Context) {
	var req CreateResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Idea)) < minIdeaLen {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idea must contain at least 5 characters"})
		return
	}

	ctx := c.Request.Context()
	idemKey := c.GetHeader("Idempotency-Key")

	if idemKey != "" && s.cache != nil {
		if cached := s.cache.Get(ctx, idemKey); cached != "" {
			if jobID, err := uuid.Parse(cached); err == nil {
				if job, err := s.store.GetJob(ctx, jobID); err == nil {
					c.JSON(http.StatusOK, s.statusFor(c, job))
					return
				}
			}
			// Stale cache entry; fall through and create a fresh job.
		}
	}

	job, err := s.store.CreateJob(ctx, req.Idea)
	if err != nil {
		slog.Error("Failed to create job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	if err := s.starter.StartJob(ctx, job.ID, req.Idea); err != nil {
		slog.Error("Failed to start job", "job_id", job.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start job"})
		return
	}

	if idemKey != "" && s.cache != nil {
		s.cache.Put(ctx, idemKey, job.ID.String())
	}

	slog.Info("Research job created", "job_id", job.ID)
	c.JSON(http.StatusOK, JobStatus{
		JobID:           job.ID,
		Status:          string(models.JobStatusPending),
		ProgressPercent: 0,
		CurrentPhase:    string(pipeline.PhaseQueued),
		CreatedAt:       job.CreatedAt,
	})
}

// GetResearch handles GET /research/:job_id.
func (s *Server) GetResearch(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	job, err := s.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		slog.Error("Failed to load job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	tasks, err := s.store.ListTasks(c.Request.Context(), jobID)
	if err != nil {
		slog.Error("Failed to load tasks", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, newJobResult(job, tasks))
}

// statusFor projects an existing job for an idempotent replay response.
func (s *Server) statusFor(c *gin.Context, job *models.Job) JobStatus {
	tasks, err := s.store.ListTasks(c.Request.Context(), job.ID)
	if err != nil {
		slog.Warn("Failed to load tasks for idempotent replay", "job_id", job.ID, "error", err)
	}
	return newJobStatus(job, tasks)
}
