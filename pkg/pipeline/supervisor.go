package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/models"
)

// MaxRejections bounds researcher retries. A task rejected this many
// times is force-approved with a degradation note instead of looping.
const MaxRejections = 3

// phaseEntry maps a completion state to the sentinel the supervisor sets
// before dispatch, and the handler kind it dispatches.
type phaseEntry struct {
	sentinel models.TaskStatus
	kind     string
}

var phaseEntries = map[models.TaskStatus]phaseEntry{
	models.TaskStatusPending:      {models.TaskStatusHypothesizingStarted, KindHypothesize},
	models.TaskStatusHypothesized: {models.TaskStatusResearchingStarted, KindResearch},
	models.TaskStatusResearched:   {models.TaskStatusScoringStarted, KindScore},
	models.TaskStatusScored:       {models.TaskStatusContradictingStarted, KindContradict},
	models.TaskStatusContradicted: {models.TaskStatusReviewStarted, KindReview},
}

// handleSupervise is the re-entrant dispatcher. Every phase handler ends
// by enqueuing it; it reads the job's tasks and dispatches whatever is
// ready. The status CAS is the serialisation point: overlapping runs
// race on it and exactly one dispatches each phase.
func (p *Pipeline) handleSupervise(ctx context.Context, payload json.RawMessage) error {
	var msg JobPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid supervise payload: %w", err)
	}

	tasks, err := p.store.ListTasks(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	allApproved := true
	for _, task := range tasks {
		switch {
		case task.Status == models.TaskStatusApproved:
			// Done.

		case task.Status == models.TaskStatusRejected:
			allApproved = false
			p.dispatchRejected(ctx, task)

		case task.Status.InProgress():
			// A handler owns it; leave untouched.
			allApproved = false

		default:
			allApproved = false
			entry, ok := phaseEntries[task.Status]
			if !ok {
				slog.Error("Task in unexpected status, skipping",
					"task_id", task.ID, "status", task.Status)
				continue
			}
			p.dispatch(ctx, task.ID, task.Status, entry)
		}
	}

	if allApproved && len(tasks) > 0 {
		p.startAggregation(ctx, msg.JobID)
	}
	return nil
}

// dispatch CASes the task onto the phase sentinel and enqueues its
// handler. Losing the CAS means another supervisor run got there first.
func (p *Pipeline) dispatch(ctx context.Context, taskID uuid.UUID, from models.TaskStatus, entry phaseEntry) {
	ok, err := p.store.UpdateTaskStatusIf(ctx, taskID, from, entry.sentinel)
	if err != nil {
		slog.Error("Failed to claim task for dispatch", "task_id", taskID, "error", err)
		return
	}
	if !ok {
		return
	}
	if err := p.queue.Enqueue(ctx, entry.kind, TaskPayload{TaskID: taskID}); err != nil {
		slog.Error("Failed to enqueue phase handler",
			"task_id", taskID, "kind", entry.kind, "error", err)
	}
}

// dispatchRejected routes a rejected task back to research, or
// force-approves it once the retry budget is spent.
func (p *Pipeline) dispatchRejected(ctx context.Context, task *models.Task) {
	if task.RetryCount >= MaxRejections {
		note := fmt.Sprintf("Force-approved after %d rejections; findings may be incomplete.", task.RetryCount)
		ok, err := p.store.ForceApproveTask(ctx, task.ID, note)
		if err != nil {
			slog.Error("Failed to force-approve task", "task_id", task.ID, "error", err)
			return
		}
		if ok {
			slog.Warn("Task force-approved after exhausting retries",
				"task_id", task.ID, "retries", task.RetryCount)
		}
		return
	}
	p.dispatch(ctx, task.ID, models.TaskStatusRejected,
		phaseEntry{models.TaskStatusResearchingRetry, KindResearch})
}

// startAggregation claims the one aggregation run per job lifecycle via
// the processing → generating CAS, then enqueues the reporter.
func (p *Pipeline) startAggregation(ctx context.Context, jobID uuid.UUID) {
	claimed, err := p.store.ClaimJobForAggregation(ctx, jobID)
	if err != nil {
		slog.Error("Failed to claim job for aggregation", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		return
	}
	slog.Info("All tasks approved, starting aggregation", "job_id", jobID)
	if err := p.queue.Enqueue(ctx, KindAggregate, JobPayload{JobID: jobID}); err != nil {
		slog.Error("Failed to enqueue aggregation", "job_id", jobID, "error", err)
	}
}
