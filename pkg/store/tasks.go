package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scoutline/scoutline/pkg/models"
)

const taskColumns = `id, job_id, title, status, result, feedback,
	hypotheses, evidence_rating, contradictions, retry_count, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t                models.Task
		result, feedback *string
	)
	err := row.Scan(&t.ID, &t.JobID, &t.Title, &t.Status, &result, &feedback,
		&t.Hypotheses, &t.EvidenceRating, &t.Contradictions, &t.RetryCount,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if result != nil {
		t.Result = *result
	}
	if feedback != nil {
		t.Feedback = *feedback
	}
	return &t, nil
}

// CreateTasks inserts one PENDING task per title, in one transaction, and
// returns them in insertion order.
func (s *Store) CreateTasks(ctx context.Context, jobID uuid.UUID, titles []string) ([]*models.Task, error) {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tasks := make([]*models.Task, 0, len(titles))
	for _, title := range titles {
		row := tx.QueryRow(ctx,
			`INSERT INTO tasks (id, job_id, title, status) VALUES ($1, $2, $3, $4)
			 RETURNING `+taskColumns,
			uuid.New(), jobID, title, models.TaskStatusPending)
		task, err := scanTask(row)
		if err != nil {
			return nil, fmt.Errorf("failed to insert task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit tasks: %w", err)
	}
	return tasks, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListTasks returns all tasks of a job ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, jobID uuid.UUID) ([]*models.Task, error) {
	return s.listTasksWhere(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = $1 ORDER BY created_at, id`, jobID)
}

// ListApprovedTasks returns the job's APPROVED tasks ordered by creation
// time. Aggregation reads exclusively through this query.
func (s *Store) ListApprovedTasks(ctx context.Context, jobID uuid.UUID) ([]*models.Task, error) {
	return s.listTasksWhere(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = $1 AND status = '`+
			string(models.TaskStatusApproved)+`' ORDER BY created_at, id`, jobID)
}

func (s *Store) listTasksWhere(ctx context.Context, query string, jobID uuid.UUID) ([]*models.Task, error) {
	rows, err := s.db.Pool().Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatusIf performs a compare-and-set on the task status.
// Returns false when the task was not in the expected state; the caller
// lost the race and must not dispatch.
func (s *Store) UpdateTaskStatusIf(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE tasks SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to CAS task status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Completion writes below are conditional on the in-progress sentinel the
// supervisor set before dispatch. Delivery is at-least-once: a replayed
// work item whose task has already moved on matches zero rows and the
// write reports false instead of rewinding the state machine.

// SetTaskHypotheses stores the hypothesis payload (nil on parse failure)
// and advances the task. The pipeline never stalls on this phase.
func (s *Store) SetTaskHypotheses(ctx context.Context, id uuid.UUID, hypotheses json.RawMessage) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET hypotheses = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, hypotheses, models.TaskStatusHypothesized, models.TaskStatusHypothesizingStarted)
}

// SetTaskResult stores the researcher's findings and marks the task
// RESEARCHED. Valid from the first research pass and from a retry.
func (s *Store) SetTaskResult(ctx context.Context, id uuid.UUID, result string) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET result = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, result, models.TaskStatusResearched,
		models.TaskStatusResearchingStarted, models.TaskStatusResearchingRetry)
}

// SetTaskEvidence stores the evidence rating (nil on parse failure) and
// marks the task SCORED.
func (s *Store) SetTaskEvidence(ctx context.Context, id uuid.UUID, rating json.RawMessage) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET evidence_rating = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, rating, models.TaskStatusScored, models.TaskStatusScoringStarted)
}

// SetTaskContradictions stores the contradiction report (nil on parse
// failure) and marks the task CONTRADICTED.
func (s *Store) SetTaskContradictions(ctx context.Context, id uuid.UUID, contradictions json.RawMessage) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET contradictions = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, contradictions, models.TaskStatusContradicted, models.TaskStatusContradictingStarted)
}

// ApproveTask marks the task APPROVED, recording the critic's feedback.
func (s *Store) ApproveTask(ctx context.Context, id uuid.UUID, feedback string) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET feedback = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, feedback, models.TaskStatusApproved, models.TaskStatusReviewStarted)
}

// RejectTask marks the task REJECTED with feedback and bumps the retry
// counter. Rejections come from a failed research run or from the critic,
// so any research or review sentinel qualifies.
func (s *Store) RejectTask(ctx context.Context, id uuid.UUID, feedback string) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET feedback = $2, status = $3, retry_count = retry_count + 1,
		 updated_at = now()
		 WHERE id = $1 AND status IN ($4, $5, $6)`,
		id, feedback, models.TaskStatusRejected,
		models.TaskStatusResearchingStarted, models.TaskStatusResearchingRetry,
		models.TaskStatusReviewStarted)
}

// ForceApproveTask moves a REJECTED task straight to APPROVED once the
// retry budget is exhausted, appending a degradation note to its
// feedback. Conditional on REJECTED so concurrent supervisors apply it
// once.
func (s *Store) ForceApproveTask(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	return s.updateTaskIf(ctx,
		`UPDATE tasks SET status = $2,
		 feedback = CASE WHEN feedback IS NULL OR feedback = ''
		            THEN $3 ELSE feedback || E'\n' || $3 END,
		 updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, models.TaskStatusApproved, note, models.TaskStatusRejected)
}

func (s *Store) updateTaskIf(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
