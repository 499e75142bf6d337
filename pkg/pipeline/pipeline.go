package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/agent"
	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/queue"
	"github.com/scoutline/scoutline/pkg/tools"
	"github.com/scoutline/scoutline/pkg/vector"
)

// Store is the persistence surface the pipeline consumes.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	SetJobEnrichment(ctx context.Context, id uuid.UUID, description string) error
	ClaimJobForAggregation(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, report, critique json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error

	CreateTasks(ctx context.Context, jobID uuid.UUID, titles []string) ([]*models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, jobID uuid.UUID) ([]*models.Task, error)
	ListApprovedTasks(ctx context.Context, jobID uuid.UUID) ([]*models.Task, error)
	UpdateTaskStatusIf(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error)
	SetTaskHypotheses(ctx context.Context, id uuid.UUID, hypotheses json.RawMessage) (bool, error)
	SetTaskResult(ctx context.Context, id uuid.UUID, result string) (bool, error)
	SetTaskEvidence(ctx context.Context, id uuid.UUID, rating json.RawMessage) (bool, error)
	SetTaskContradictions(ctx context.Context, id uuid.UUID, contradictions json.RawMessage) (bool, error)
	ApproveTask(ctx context.Context, id uuid.UUID, feedback string) (bool, error)
	RejectTask(ctx context.Context, id uuid.UUID, feedback string) (bool, error)
	ForceApproveTask(ctx context.Context, id uuid.UUID, note string) (bool, error)
}

// Runner executes one agent conversation.
type Runner interface {
	Run(ctx context.Context, ag agent.Agent, rc agent.RunContext, input string) (string, error)
}

// Enqueuer publishes work items.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

// ChunkSaver indexes approved report text for later retrieval.
type ChunkSaver interface {
	SaveChunks(ctx context.Context, jobID uuid.UUID, reportText string, embed vector.EmbedFunc) (int, error)
}

// Pipeline wires the agents, the store, and the queue into the research
// workflow. Every handler follows the same shape: load state, run its
// agent, persist outputs with a terminal status, re-enqueue the
// supervisor. Errors become state, never handler failures.
type Pipeline struct {
	store  Store
	queue  Enqueuer
	runner Runner
	chunks ChunkSaver
	embed  vector.EmbedFunc

	enricher     agent.Agent
	planner      agent.Agent
	hypothesizer agent.Agent
	researcher   agent.Agent
	scorer       agent.Agent
	contradictor agent.Agent
	critic       agent.Agent
	reporter     agent.Agent
	finalCritic  agent.Agent
}

// New creates the pipeline. researchTools arms the researcher (web +
// internal search); contradictionTools arms the contradiction finder
// (web only).
func New(st Store, q Enqueuer, runner Runner, chunks ChunkSaver, embed vector.EmbedFunc, researchTools, contradictionTools *tools.Set) *Pipeline {
	if st == nil || q == nil || runner == nil {
		panic("pipeline.New: store, queue, and runner must not be nil")
	}
	return &Pipeline{
		store:        st,
		queue:        q,
		runner:       runner,
		chunks:       chunks,
		embed:        embed,
		enricher:     agent.NewEnricher(),
		planner:      agent.NewPlanner(),
		hypothesizer: agent.NewHypothesizer(),
		researcher:   agent.NewResearcher(researchTools),
		scorer:       agent.NewEvidenceScorer(),
		contradictor: agent.NewContradictionFinder(contradictionTools),
		critic:       agent.NewCritic(),
		reporter:     agent.NewReporter(),
		finalCritic:  agent.NewFinalCritic(),
	}
}

// Register binds every handler kind on the worker pool.
func (p *Pipeline) Register(pool *queue.WorkerPool) {
	pool.Register(KindEnrich, p.handleEnrich)
	pool.Register(KindPlan, p.handlePlan)
	pool.Register(KindSupervise, p.handleSupervise)
	pool.Register(KindHypothesize, p.handleHypothesize)
	pool.Register(KindResearch, p.handleResearch)
	pool.Register(KindScore, p.handleScore)
	pool.Register(KindContradict, p.handleContradict)
	pool.Register(KindReview, p.handleReview)
	pool.Register(KindAggregate, p.handleAggregate)
	pool.Register(KindFinalCritique, p.handleFinalCritique)
}

// StartJob enqueues the enrichment phase for a freshly created job.
func (p *Pipeline) StartJob(ctx context.Context, jobID uuid.UUID, idea string) error {
	return p.queue.Enqueue(ctx, KindEnrich, EnrichPayload{JobID: jobID, Idea: idea})
}

// supervise re-enqueues the supervisor for a job. Best-effort: the
// caller has already committed its own state.
func (p *Pipeline) supervise(ctx context.Context, jobID uuid.UUID) error {
	return p.queue.Enqueue(ctx, KindSupervise, JobPayload{JobID: jobID})
}
