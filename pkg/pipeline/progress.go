package pipeline

import "github.com/scoutline/scoutline/pkg/models"

// Phase is the coarse pipeline stage surfaced to API clients.
type Phase string

// Client-visible phases.
const (
	PhaseQueued      Phase = "queued"
	PhaseEnriching   Phase = "enriching"
	PhasePlanning    Phase = "planning"
	PhaseResearching Phase = "researching"
	PhaseReporting   Phase = "reporting"
	PhaseFailed      Phase = "failed"
)

// Progress projects a job and its tasks onto a percentage and phase.
// The percentage is 100 iff the job completed and 0 iff it is pending or
// failed; in between it moves with the share of settled tasks, clamped
// below 100.
func Progress(job *models.Job, tasks []*models.Task) (int, Phase) {
	switch job.Status {
	case models.JobStatusCompleted:
		return 100, PhaseReporting
	case models.JobStatusFailed:
		return 0, PhaseFailed
	case models.JobStatusPending:
		return 0, PhaseEnriching
	}

	// processing (or generating, which surfaces as processing)
	if len(tasks) == 0 {
		return 10, PhasePlanning
	}

	settled := 0
	for _, t := range tasks {
		if t.Status.Settled() {
			settled++
		}
	}

	percent := 20 + (settled*70)/len(tasks)
	phase := PhaseResearching
	if settled == len(tasks) {
		phase = PhaseReporting
		if percent > 90 {
			percent = 90
		}
	}
	if percent > 99 {
		percent = 99
	}
	return percent, phase
}
