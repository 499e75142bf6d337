package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/agent"
	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/vector"
)

// handleEnrich expands the raw idea into a research description and
// chains into planning. An enrichment failure fails the whole job: no
// tasks exist yet, so there is no state machine to absorb the error.
func (p *Pipeline) handleEnrich(ctx context.Context, payload json.RawMessage) error {
	var msg EnrichPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid enrich payload: %w", err)
	}

	description, err := p.runner.Run(ctx, p.enricher, agent.RunContext{JobID: msg.JobID}, msg.Idea)
	if err != nil {
		slog.Error("Enrichment failed, failing job", "job_id", msg.JobID, "error", err)
		if failErr := p.store.FailJob(ctx, msg.JobID, "enrichment failed: "+err.Error()); failErr != nil {
			return fmt.Errorf("failed to mark job failed: %w", failErr)
		}
		return nil
	}

	if err := p.store.SetJobEnrichment(ctx, msg.JobID, description); err != nil {
		return fmt.Errorf("failed to store enrichment: %w", err)
	}
	return p.queue.Enqueue(ctx, KindPlan, PlanPayload{JobID: msg.JobID, Description: description})
}

// handlePlan turns the description into tasks. Planner output that does
// not parse as a JSON array of strings falls back to a single task
// titled with the full description.
func (p *Pipeline) handlePlan(ctx context.Context, payload json.RawMessage) error {
	var msg PlanPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid plan payload: %w", err)
	}

	out, err := p.runner.Run(ctx, p.planner, agent.RunContext{JobID: msg.JobID}, msg.Description)
	if err != nil {
		slog.Error("Planning failed, failing job", "job_id", msg.JobID, "error", err)
		if failErr := p.store.FailJob(ctx, msg.JobID, "planning failed: "+err.Error()); failErr != nil {
			return fmt.Errorf("failed to mark job failed: %w", failErr)
		}
		return nil
	}

	titles := parsePlan(out, msg.Description)
	if _, err := p.store.CreateTasks(ctx, msg.JobID, titles); err != nil {
		return fmt.Errorf("failed to create tasks: %w", err)
	}
	slog.Info("Research plan created", "job_id", msg.JobID, "tasks", len(titles))
	return p.supervise(ctx, msg.JobID)
}

// parsePlan extracts task titles from the planner output, falling back
// to one task carrying the full description.
func parsePlan(out, description string) []string {
	var plan models.PlanTaskList
	if err := models.ParseAgentJSON(out, &plan); err != nil {
		return []string{description}
	}
	var titles []string
	for _, t := range plan {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return []string{description}
	}
	return titles
}

// handleAggregate assembles approved findings into the report draft and
// hands it to the final critic. Aggregation errors fail the job; there
// is no automatic retry of aggregation.
func (p *Pipeline) handleAggregate(ctx context.Context, payload json.RawMessage) error {
	var msg JobPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid aggregate payload: %w", err)
	}

	tasks, err := p.store.ListApprovedTasks(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to list approved tasks: %w", err)
	}

	out, err := p.runner.Run(ctx, p.reporter, agent.RunContext{JobID: msg.JobID}, aggregationContext(tasks))
	if err != nil {
		slog.Error("Aggregation failed, failing job", "job_id", msg.JobID, "error", err)
		if failErr := p.store.FailJob(ctx, msg.JobID, "aggregation failed: "+err.Error()); failErr != nil {
			return fmt.Errorf("failed to mark job failed: %w", failErr)
		}
		return nil
	}

	draft := draftFromReporterOutput(out)
	return p.queue.Enqueue(ctx, KindFinalCritique, FinalCritiquePayload{JobID: msg.JobID, Draft: draft})
}

// aggregationContext renders the approved tasks in their stored order so
// repeated aggregations of the same job see identical input.
func aggregationContext(tasks []*models.Task) string {
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "## Task: %s\n", task.Title)
		if len(task.Hypotheses) > 0 {
			fmt.Fprintf(&b, "Hypotheses: %s\n", task.Hypotheses)
		}
		fmt.Fprintf(&b, "Result: %s\n", task.Result)
		if len(task.EvidenceRating) > 0 {
			fmt.Fprintf(&b, "Evidence rating: %s\n", task.EvidenceRating)
		}
		if len(task.Contradictions) > 0 {
			fmt.Fprintf(&b, "Contradictions: %s\n", task.Contradictions)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// draftFromReporterOutput keeps valid JSON as-is and wraps anything else
// as a plain-text report.
func draftFromReporterOutput(out string) json.RawMessage {
	cleaned := models.CleanJSON(out)
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned)
	}
	wrapped, err := json.Marshal(models.PlainTextReport{Content: out, Format: "plain_text"})
	if err != nil {
		// Content is a plain string; marshalling it cannot fail in practice.
		return json.RawMessage(`{"content":"","format":"plain_text"}`)
	}
	return wrapped
}

// handleFinalCritique reviews the whole draft, completes the job, then
// indexes the report for future retrieval. The draft survives every
// failure path: a crashed critic still yields a completed job carrying
// the report, and chunk indexing failures are logged only.
func (p *Pipeline) handleFinalCritique(ctx context.Context, payload json.RawMessage) error {
	var msg FinalCritiquePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid final critique payload: %w", err)
	}

	reportText := vector.FlattenReport(msg.Draft)

	var critique json.RawMessage
	out, err := p.runner.Run(ctx, p.finalCritic, agent.RunContext{JobID: msg.JobID}, reportText)
	if err != nil {
		slog.Error("Final critique failed, completing job with draft only",
			"job_id", msg.JobID, "error", err)
	} else {
		critique = critiqueFromOutput(out)
	}

	if err := p.store.CompleteJob(ctx, msg.JobID, msg.Draft, critique); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	slog.Info("Job completed", "job_id", msg.JobID)

	p.indexReport(ctx, msg.JobID, reportText)
	return nil
}

// critiqueFromOutput parses the final critic's verdict. Plain text is
// treated as approval with the text attached as the critique.
func critiqueFromOutput(out string) json.RawMessage {
	var verdict models.FinalCritique
	if err := models.ParseAgentJSON(out, &verdict); err != nil {
		verdict = models.FinalCritique{Approved: true, Critique: out}
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		return nil
	}
	return raw
}

// indexReport chunks and embeds the completed report. Best-effort: the
// job is already completed and stays that way.
func (p *Pipeline) indexReport(ctx context.Context, jobID uuid.UUID, reportText string) {
	if p.chunks == nil || p.embed == nil {
		return
	}
	n, err := p.chunks.SaveChunks(ctx, jobID, reportText, p.embed)
	if err != nil {
		slog.Warn("Failed to index report chunks", "job_id", jobID, "error", err)
		return
	}
	slog.Info("Report indexed", "job_id", jobID, "chunks", n)
}
