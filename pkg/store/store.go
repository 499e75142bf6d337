// Package store is the persistence layer over Postgres. Every write runs
// in its own short transaction scope; the conditional status updates are
// the concurrency primitive the supervisor relies on.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scoutline/scoutline/pkg/database"
	"github.com/scoutline/scoutline/pkg/models"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides typed access to jobs, tasks, chunks, and agent logs.
type Store struct {
	db *database.Client
}

// New creates a Store over the shared connection pool.
func New(db *database.Client) *Store {
	if db == nil {
		panic("store.New: db must not be nil")
	}
	return &Store{db: db}
}

const jobColumns = `id, idea, description, status, report, final_critique, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j           models.Job
		description *string
	)
	err := row.Scan(&j.ID, &j.Idea, &description, &j.Status, &j.Report, &j.FinalCritique, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if description != nil {
		j.Description = *description
	}
	return &j, nil
}

// CreateJob inserts a new job in "pending" status and returns it.
func (s *Store) CreateJob(ctx context.Context, idea string) (*models.Job, error) {
	id := uuid.New()
	row := s.db.Pool().QueryRow(ctx,
		`INSERT INTO jobs (id, idea, status) VALUES ($1, $2, $3)
		 RETURNING `+jobColumns,
		id, idea, models.JobStatusPending)
	return scanJob(row)
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// SetJobEnrichment stores the enriched description and moves the job to
// "processing".
func (s *Store) SetJobEnrichment(ctx context.Context, id uuid.UUID, description string) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE jobs SET description = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, description, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimJobForAggregation atomically moves the job to "generating" unless
// it is already generating or completed. It returns false when the claim
// was lost to a concurrent supervisor run and the caller must not aggregate.
func (s *Store) ClaimJobForAggregation(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = now()
		 WHERE id = $1 AND status NOT IN ($2, $3)`,
		id, models.JobStatusGenerating, models.JobStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to claim job for aggregation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteJob writes the final report and critique and marks the job
// completed. A nil critique leaves the column null (crash fallback path).
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, report, critique json.RawMessage) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE jobs SET report = $2, final_critique = $3, status = $4, updated_at = now()
		 WHERE id = $1`,
		id, report, critique, models.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks the job failed with an error report.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	report, err := json.Marshal(map[string]string{"error": errMsg})
	if err != nil {
		return fmt.Errorf("failed to marshal error report: %w", err)
	}
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE jobs SET report = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, report, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTerminalJobsBefore removes completed/failed jobs updated before
// the cutoff. Tasks, chunks, and agent logs cascade.
func (s *Store) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND updated_at < $3`,
		models.JobStatusCompleted, models.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
