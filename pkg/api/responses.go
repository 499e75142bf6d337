package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/pipeline"
)

// JobStatus is the client-visible snapshot of a job.
type JobStatus struct {
	JobID           uuid.UUID  `json:"job_id"`
	Status          string     `json:"status"`
	ProgressPercent int        `json:"progress_percent"`
	CurrentPhase    string     `json:"current_phase"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// JobResult extends JobStatus with the job's content once available.
type JobResult struct {
	JobStatus
	Description   string          `json:"description,omitempty"`
	Report        json.RawMessage `json:"report,omitempty"`
	FinalCritique json.RawMessage `json:"final_critique,omitempty"`
}

// newJobStatus projects a job onto the response shape. The internal
// generating status surfaces as processing.
func newJobStatus(job *models.Job, tasks []*models.Task) JobStatus {
	percent, phase := pipeline.Progress(job, tasks)

	status := JobStatus{
		JobID:           job.ID,
		Status:          string(job.Status.Public()),
		ProgressPercent: percent,
		CurrentPhase:    string(phase),
		CreatedAt:       job.CreatedAt,
	}
	if !job.UpdatedAt.IsZero() {
		t := job.UpdatedAt
		status.UpdatedAt = &t
	}
	if job.Status == models.JobStatusFailed {
		status.Error = failureMessage(job.Report)
	}
	return status
}

// newJobResult adds the content fields to a status snapshot. A failed
// job's report holds only the error envelope and is not echoed back.
func newJobResult(job *models.Job, tasks []*models.Task) JobResult {
	result := JobResult{
		JobStatus:   newJobStatus(job, tasks),
		Description: job.Description,
	}
	if job.Status != models.JobStatusFailed {
		result.Report = job.Report
		result.FinalCritique = job.FinalCritique
	}
	return result
}

// failureMessage extracts the error string from a failed job's report
// envelope.
func failureMessage(report json.RawMessage) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(report, &envelope); err != nil {
		return ""
	}
	return envelope.Error
}
