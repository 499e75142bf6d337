// Package pipeline implements the research pipeline: the supervisor
// dispatcher, the per-phase work handlers, and the progress projector.
package pipeline

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Queue kinds. job.* handlers take a job id; task.* handlers take a
// task id.
const (
	KindEnrich        = "job.enrich"
	KindPlan          = "job.plan"
	KindSupervise     = "job.supervise"
	KindHypothesize   = "task.hypothesize"
	KindResearch      = "task.research"
	KindScore         = "task.score"
	KindContradict    = "task.contradict"
	KindReview        = "task.review"
	KindAggregate     = "job.aggregate"
	KindFinalCritique = "job.final_critique"
)

// EnrichPayload starts a job: the raw idea to enrich.
type EnrichPayload struct {
	JobID uuid.UUID `json:"job_id"`
	Idea  string    `json:"idea"`
}

// PlanPayload carries the enriched description into planning.
type PlanPayload struct {
	JobID       uuid.UUID `json:"job_id"`
	Description string    `json:"description"`
}

// JobPayload addresses one job.
type JobPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// TaskPayload addresses one task.
type TaskPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// FinalCritiquePayload carries the aggregated draft into final review.
type FinalCritiquePayload struct {
	JobID uuid.UUID       `json:"job_id"`
	Draft json.RawMessage `json:"draft"`
}
