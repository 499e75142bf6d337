package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the state of a single research subquestion within a job.
//
// The supervisor applies the entry transitions (completion state to the
// next *_STARTED sentinel); each phase handler applies its own completion
// transition as its final commit. The only backward edge is
// REJECTED → RESEARCHING_RETRY.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "PENDING"

	TaskStatusHypothesizingStarted TaskStatus = "HYPOTHESIZING_STARTED"
	TaskStatusHypothesized         TaskStatus = "HYPOTHESIZED"

	TaskStatusResearchingStarted TaskStatus = "RESEARCHING_STARTED"
	TaskStatusResearchingRetry   TaskStatus = "RESEARCHING_RETRY"
	TaskStatusResearched         TaskStatus = "RESEARCHED"

	TaskStatusScoringStarted TaskStatus = "SCORING_STARTED"
	TaskStatusScored         TaskStatus = "SCORED"

	TaskStatusContradictingStarted TaskStatus = "CONTRADICTING_STARTED"
	TaskStatusContradicted         TaskStatus = "CONTRADICTED"

	TaskStatusReviewStarted TaskStatus = "REVIEW_STARTED"
	TaskStatusApproved      TaskStatus = "APPROVED"
	TaskStatusRejected      TaskStatus = "REJECTED"
)

// InProgress reports whether the status is an in-progress sentinel,
// meaning a handler currently owns the task and the supervisor must not
// re-dispatch it.
func (s TaskStatus) InProgress() bool {
	switch s {
	case TaskStatusHypothesizingStarted,
		TaskStatusResearchingStarted,
		TaskStatusResearchingRetry,
		TaskStatusScoringStarted,
		TaskStatusContradictingStarted,
		TaskStatusReviewStarted:
		return true
	}
	return false
}

// Settled reports whether the task has reached an end-of-review state
// (counts toward progress).
func (s TaskStatus) Settled() bool {
	return s == TaskStatusApproved || s == TaskStatusRejected
}

// Task is a single research subquestion and its accumulated findings.
type Task struct {
	ID             uuid.UUID       `json:"id"`
	JobID          uuid.UUID       `json:"job_id"`
	Title          string          `json:"title"`
	Status         TaskStatus      `json:"status"`
	Result         string          `json:"result,omitempty"`
	Feedback       string          `json:"feedback,omitempty"`
	Hypotheses     json.RawMessage `json:"hypotheses,omitempty"`
	EvidenceRating json.RawMessage `json:"evidence_rating,omitempty"`
	Contradictions json.RawMessage `json:"contradictions,omitempty"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
