package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scoutline/scoutline/pkg/agent"
	"github.com/scoutline/scoutline/pkg/models"
)

// loadTask resolves a task payload. A missing task is not an error:
// at-least-once delivery can replay items for deleted jobs.
func (p *Pipeline) loadTask(ctx context.Context, payload json.RawMessage) (*models.Task, error) {
	var msg TaskPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid task payload: %w", err)
	}
	task, err := p.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", msg.TaskID, err)
	}
	return task, nil
}

func taskRunContext(task *models.Task) agent.RunContext {
	id := task.ID
	return agent.RunContext{JobID: task.JobID, TaskID: &id}
}

// handleHypothesize proposes hypotheses for a pending task. Soft-signal:
// agent or parse failure stores a null payload and the task advances
// anyway.
func (p *Pipeline) handleHypothesize(ctx context.Context, payload json.RawMessage) error {
	task, err := p.loadTask(ctx, payload)
	if err != nil {
		return err
	}

	hypotheses := p.runSoftSignal(ctx, p.hypothesizer, task, task.Title)
	ok, err := p.store.SetTaskHypotheses(ctx, task.ID, hypotheses)
	if err != nil {
		return fmt.Errorf("failed to store hypotheses: %w", err)
	}
	if !ok {
		p.dropStale(task, "hypotheses")
		return nil
	}
	return p.supervise(ctx, task.JobID)
}

// handleResearch runs the researcher on the task, folding in reviewer
// feedback and hypotheses when present. Failure rejects the task with a
// system-error feedback and hands control back to the supervisor.
func (p *Pipeline) handleResearch(ctx context.Context, payload json.RawMessage) error {
	task, err := p.loadTask(ctx, payload)
	if err != nil {
		return err
	}

	result, err := p.runner.Run(ctx, p.researcher, taskRunContext(task), researchPrompt(task))
	if err != nil {
		slog.Warn("Research failed, rejecting task", "task_id", task.ID, "error", err)
		ok, rejectErr := p.store.RejectTask(ctx, task.ID, "System Error: "+err.Error())
		if rejectErr != nil {
			return fmt.Errorf("failed to reject task after research error: %w", rejectErr)
		}
		if !ok {
			p.dropStale(task, "research rejection")
			return nil
		}
		return p.supervise(ctx, task.JobID)
	}

	ok, err := p.store.SetTaskResult(ctx, task.ID, result)
	if err != nil {
		return fmt.Errorf("failed to store research result: %w", err)
	}
	if !ok {
		p.dropStale(task, "research result")
		return nil
	}
	return p.supervise(ctx, task.JobID)
}

// researchPrompt builds the researcher input: the title, plus reviewer
// feedback on a retry, plus any hypotheses to test.
func researchPrompt(task *models.Task) string {
	var b strings.Builder
	if task.Feedback != "" {
		fmt.Fprintf(&b, "Task: %s\n\nPREVIOUS FEEDBACK (Must be addressed): %s\n\nPlease improve the research based on this feedback.",
			task.Title, task.Feedback)
	} else {
		b.WriteString(task.Title)
	}
	if len(task.Hypotheses) > 0 {
		fmt.Fprintf(&b, "\n\nHypotheses to confirm or refute:\n%s", task.Hypotheses)
	}
	return b.String()
}

// handleScore rates the evidence behind a research result. Soft-signal.
func (p *Pipeline) handleScore(ctx context.Context, payload json.RawMessage) error {
	task, err := p.loadTask(ctx, payload)
	if err != nil {
		return err
	}

	input := fmt.Sprintf("Task: %s\n\nResult: %s", task.Title, task.Result)
	rating := p.runSoftSignal(ctx, p.scorer, task, input)
	ok, err := p.store.SetTaskEvidence(ctx, task.ID, rating)
	if err != nil {
		return fmt.Errorf("failed to store evidence rating: %w", err)
	}
	if !ok {
		p.dropStale(task, "evidence rating")
		return nil
	}
	return p.supervise(ctx, task.JobID)
}

// handleContradict searches for contradicting claims. Soft-signal.
func (p *Pipeline) handleContradict(ctx context.Context, payload json.RawMessage) error {
	task, err := p.loadTask(ctx, payload)
	if err != nil {
		return err
	}

	input := fmt.Sprintf("Task: %s\n\nResult: %s", task.Title, task.Result)
	report := p.runSoftSignal(ctx, p.contradictor, task, input)
	ok, err := p.store.SetTaskContradictions(ctx, task.ID, report)
	if err != nil {
		return fmt.Errorf("failed to store contradiction report: %w", err)
	}
	if !ok {
		p.dropStale(task, "contradiction report")
		return nil
	}
	return p.supervise(ctx, task.JobID)
}

// runSoftSignal runs an agent whose output is optional enrichment.
// Agent failure or non-JSON output yields nil; the phase still advances.
func (p *Pipeline) runSoftSignal(ctx context.Context, ag agent.Agent, task *models.Task, input string) json.RawMessage {
	out, err := p.runner.Run(ctx, ag, taskRunContext(task), input)
	if err != nil {
		slog.Warn("Soft-signal agent failed, advancing with null payload",
			"agent", ag.Name, "task_id", task.ID, "error", err)
		return nil
	}
	cleaned := models.CleanJSON(out)
	if !json.Valid([]byte(cleaned)) {
		slog.Warn("Soft-signal agent output was not valid JSON, advancing with null payload",
			"agent", ag.Name, "task_id", task.ID)
		return nil
	}
	return json.RawMessage(cleaned)
}

// handleReview runs the critic and settles the task. The verdict
// controls APPROVED vs REJECTED; a parse failure rejects so the
// researcher retries with the error visible as feedback.
func (p *Pipeline) handleReview(ctx context.Context, payload json.RawMessage) error {
	task, err := p.loadTask(ctx, payload)
	if err != nil {
		return err
	}

	out, err := p.runner.Run(ctx, p.critic, taskRunContext(task), reviewPrompt(task))
	if err != nil {
		slog.Warn("Review failed, rejecting task", "task_id", task.ID, "error", err)
		return p.settleReview(ctx, task, false, "System Error in Review: "+err.Error())
	}

	var verdict models.CriticVerdict
	if err := models.ParseAgentJSON(out, &verdict); err != nil {
		slog.Warn("Critic output did not parse, rejecting task", "task_id", task.ID, "error", err)
		return p.settleReview(ctx, task, false, "Parse Error: critic returned invalid JSON")
	}
	return p.settleReview(ctx, task, verdict.Approved, verdict.Feedback)
}

func reviewPrompt(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nResult: %s", task.Title, task.Result)
	if len(task.Contradictions) > 0 {
		fmt.Fprintf(&b, "\n\nReported contradictions: %s", task.Contradictions)
	}
	return b.String()
}

func (p *Pipeline) settleReview(ctx context.Context, task *models.Task, approved bool, feedback string) error {
	var (
		ok  bool
		err error
	)
	if approved {
		ok, err = p.store.ApproveTask(ctx, task.ID, feedback)
	} else {
		ok, err = p.store.RejectTask(ctx, task.ID, feedback)
	}
	if err != nil {
		return fmt.Errorf("failed to settle review: %w", err)
	}
	if !ok {
		p.dropStale(task, "review verdict")
		return nil
	}
	slog.Info("Task reviewed", "task_id", task.ID, "approved", approved)
	return p.supervise(ctx, task.JobID)
}

// dropStale is the redelivery path: the conditional write matched no row
// because another delivery already advanced the task. Dropping the item
// without re-enqueuing the supervisor keeps replays side-effect free.
func (p *Pipeline) dropStale(task *models.Task, what string) {
	slog.Warn("Task moved on before commit, dropping duplicate delivery",
		"task_id", task.ID, "phase", what, "status", task.Status)
}
