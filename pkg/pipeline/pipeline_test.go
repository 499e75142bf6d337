package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/scoutline/pkg/agent"
	"github.com/scoutline/scoutline/pkg/models"
	"github.com/scoutline/scoutline/pkg/store"
	"github.com/scoutline/scoutline/pkg/vector"
)

// fakeStore is an in-memory Store with the same CAS semantics as the
// SQL-backed one.
type fakeStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	tasks map[uuid.UUID]*models.Task
	order []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[uuid.UUID]*models.Job),
		tasks: make(map[uuid.UUID]*models.Task),
	}
}

func (f *fakeStore) addJob(status models.JobStatus) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &models.Job{ID: uuid.New(), Status: status}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeStore) addTask(jobID uuid.UUID, status models.TaskStatus) *models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &models.Task{ID: uuid.New(), JobID: jobID, Title: "task", Status: status}
	f.tasks[task.ID] = task
	f.order = append(f.order, task.ID)
	return task
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *job
	return &copy, nil
}

func (f *fakeStore) SetJobEnrichment(_ context.Context, id uuid.UUID, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Description = description
	job.Status = models.JobStatusProcessing
	return nil
}

func (f *fakeStore) ClaimJobForAggregation(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if job.Status == models.JobStatusGenerating || job.Status == models.JobStatusCompleted {
		return false, nil
	}
	job.Status = models.JobStatusGenerating
	return true, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, id uuid.UUID, report, critique json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Report = report
	job.FinalCritique = critique
	job.Status = models.JobStatusCompleted
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, id uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	raw, _ := json.Marshal(map[string]string{"error": errMsg})
	job.Report = raw
	job.Status = models.JobStatusFailed
	return nil
}

func (f *fakeStore) CreateTasks(_ context.Context, jobID uuid.UUID, titles []string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var created []*models.Task
	for _, title := range titles {
		task := &models.Task{ID: uuid.New(), JobID: jobID, Title: title, Status: models.TaskStatusPending}
		f.tasks[task.ID] = task
		f.order = append(f.order, task.ID)
		created = append(created, task)
	}
	return created, nil
}

func (f *fakeStore) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copy := *task
	return &copy, nil
}

func (f *fakeStore) ListTasks(_ context.Context, jobID uuid.UUID) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Task
	for _, id := range f.order {
		if task := f.tasks[id]; task.JobID == jobID {
			copy := *task
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeStore) ListApprovedTasks(_ context.Context, jobID uuid.UUID) ([]*models.Task, error) {
	all, _ := f.ListTasks(nil, jobID)
	var out []*models.Task
	for _, task := range all {
		if task.Status == models.TaskStatusApproved {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTaskStatusIf(_ context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if task.Status != from {
		return false, nil
	}
	task.Status = to
	return true, nil
}

func (f *fakeStore) SetTaskHypotheses(_ context.Context, id uuid.UUID, hypotheses json.RawMessage) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusHypothesizingStarted},
		func(t *models.Task) {
			t.Hypotheses = hypotheses
			t.Status = models.TaskStatusHypothesized
		})
}

func (f *fakeStore) SetTaskResult(_ context.Context, id uuid.UUID, result string) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusResearchingStarted, models.TaskStatusResearchingRetry},
		func(t *models.Task) {
			t.Result = result
			t.Status = models.TaskStatusResearched
		})
}

func (f *fakeStore) SetTaskEvidence(_ context.Context, id uuid.UUID, rating json.RawMessage) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusScoringStarted},
		func(t *models.Task) {
			t.EvidenceRating = rating
			t.Status = models.TaskStatusScored
		})
}

func (f *fakeStore) SetTaskContradictions(_ context.Context, id uuid.UUID, contradictions json.RawMessage) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusContradictingStarted},
		func(t *models.Task) {
			t.Contradictions = contradictions
			t.Status = models.TaskStatusContradicted
		})
}

func (f *fakeStore) ApproveTask(_ context.Context, id uuid.UUID, feedback string) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusReviewStarted},
		func(t *models.Task) {
			t.Feedback = feedback
			t.Status = models.TaskStatusApproved
		})
}

func (f *fakeStore) RejectTask(_ context.Context, id uuid.UUID, feedback string) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusResearchingStarted, models.TaskStatusResearchingRetry, models.TaskStatusReviewStarted},
		func(t *models.Task) {
			t.Feedback = feedback
			t.Status = models.TaskStatusRejected
			t.RetryCount++
		})
}

func (f *fakeStore) ForceApproveTask(_ context.Context, id uuid.UUID, note string) (bool, error) {
	return f.settleTask(id,
		[]models.TaskStatus{models.TaskStatusRejected},
		func(t *models.Task) {
			t.Status = models.TaskStatusApproved
			if t.Feedback == "" {
				t.Feedback = note
			} else {
				t.Feedback = t.Feedback + "\n" + note
			}
		})
}

// settleTask mirrors the SQL store: the mutation applies only when the
// task is in one of the expected states, otherwise it reports false.
func (f *fakeStore) settleTask(id uuid.UUID, from []models.TaskStatus, mutate func(*models.Task)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if task.Status == status {
			mutate(task)
			return true, nil
		}
	}
	return false, nil
}

// fakeRunner returns scripted outputs per agent name.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	inputs  map[string][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
		inputs:  make(map[string][]string),
	}
}

func (r *fakeRunner) Run(_ context.Context, ag agent.Agent, _ agent.RunContext, input string) (string, error) {
	r.inputs[ag.Name] = append(r.inputs[ag.Name], input)
	if err := r.errs[ag.Name]; err != nil {
		return "", err
	}
	return r.outputs[ag.Name], nil
}

// fakeQueue records enqueued work.
type fakeQueue struct {
	mu    sync.Mutex
	items []queuedItem
}

type queuedItem struct {
	kind    string
	payload any
}

func (q *fakeQueue) Enqueue(_ context.Context, kind string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, queuedItem{kind: kind, payload: payload})
	return nil
}

func (q *fakeQueue) kinds() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, item := range q.items {
		out = append(out, item.kind)
	}
	return out
}

func (q *fakeQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// fakeChunkSaver records indexing requests.
type fakeChunkSaver struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (c *fakeChunkSaver) SaveChunks(_ context.Context, _ uuid.UUID, reportText string, _ vector.EmbedFunc) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.texts = append(c.texts, reportText)
	return 1, c.err
}

func newTestPipeline(st *fakeStore, runner *fakeRunner, q *fakeQueue, chunks *fakeChunkSaver) *Pipeline {
	embed := func(context.Context, string) ([]float32, error) { return make([]float32, 1024), nil }
	return New(st, q, runner, chunks, embed, nil, nil)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSuperviseDispatchesPendingTask(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusPending)

	err := p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID}))
	require.NoError(t, err)

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusHypothesizingStarted, got.Status)
	assert.Equal(t, []string{KindHypothesize}, q.kinds())
}

func TestSuperviseWalksEntryTransitions(t *testing.T) {
	cases := []struct {
		from     models.TaskStatus
		sentinel models.TaskStatus
		kind     string
	}{
		{models.TaskStatusPending, models.TaskStatusHypothesizingStarted, KindHypothesize},
		{models.TaskStatusHypothesized, models.TaskStatusResearchingStarted, KindResearch},
		{models.TaskStatusResearched, models.TaskStatusScoringStarted, KindScore},
		{models.TaskStatusScored, models.TaskStatusContradictingStarted, KindContradict},
		{models.TaskStatusContradicted, models.TaskStatusReviewStarted, KindReview},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			st := newFakeStore()
			q := &fakeQueue{}
			p := newTestPipeline(st, newFakeRunner(), q, nil)

			job := st.addJob(models.JobStatusProcessing)
			task := st.addTask(job.ID, tc.from)

			require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

			got, _ := st.GetTask(context.Background(), task.ID)
			assert.Equal(t, tc.sentinel, got.Status)
			assert.Equal(t, []string{tc.kind}, q.kinds())
		})
	}
}

func TestSuperviseLeavesInProgressTasksAlone(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	st.addTask(job.ID, models.TaskStatusResearchingStarted)
	st.addTask(job.ID, models.TaskStatusReviewStarted)

	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))
	assert.Empty(t, q.kinds())

	// A second run is equally silent: supervision is idempotent on a
	// stable state.
	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))
	assert.Empty(t, q.kinds())
}

func TestSuperviseRejectedTaskRetries(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusRejected)
	task.RetryCount = 1

	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusResearchingRetry, got.Status)
	assert.Equal(t, []string{KindResearch}, q.kinds())
}

func TestSuperviseForceApprovesAfterRetryBudget(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusRejected)
	task.RetryCount = MaxRejections

	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusApproved, got.Status)
	assert.Contains(t, got.Feedback, "Force-approved")
	// Aggregation starts on the next supervision pass, not this one.
	assert.Empty(t, q.kinds())
}

func TestSuperviseStartsAggregationExactlyOnce(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	st.addTask(job.ID, models.TaskStatusApproved)
	st.addTask(job.ID, models.TaskStatusApproved)

	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))
	assert.Equal(t, []string{KindAggregate}, q.kinds())

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusGenerating, gotJob.Status)

	// The generating CAS blocks a second aggregation.
	q.reset()
	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))
	assert.Empty(t, q.kinds())
}

func TestSuperviseNoTasksNoAggregation(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	p := newTestPipeline(st, newFakeRunner(), q, nil)

	job := st.addJob(models.JobStatusProcessing)
	require.NoError(t, p.handleSupervise(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))
	assert.Empty(t, q.kinds())
}

func TestHandleEnrichSuccessChainsIntoPlan(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Enricher"] = "a detailed description"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusPending)
	payload := mustMarshal(t, EnrichPayload{JobID: job.ID, Idea: "short idea"})
	require.NoError(t, p.handleEnrich(context.Background(), payload))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusProcessing, gotJob.Status)
	assert.Equal(t, "a detailed description", gotJob.Description)
	assert.Equal(t, []string{KindPlan}, q.kinds())
}

func TestHandleEnrichFailureFailsJob(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.errs["Enricher"] = fmt.Errorf("model unavailable")
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusPending)
	payload := mustMarshal(t, EnrichPayload{JobID: job.ID, Idea: "short idea"})
	require.NoError(t, p.handleEnrich(context.Background(), payload))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)
	assert.Empty(t, q.kinds())
}

func TestHandlePlanCreatesTasks(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Planner"] = `["Investigate A", "Investigate B"]`
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	payload := mustMarshal(t, PlanPayload{JobID: job.ID, Description: "desc"})
	require.NoError(t, p.handlePlan(context.Background(), payload))

	tasks, _ := st.ListTasks(context.Background(), job.ID)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Investigate A", tasks[0].Title)
	assert.Equal(t, "Investigate B", tasks[1].Title)
	assert.Equal(t, []string{KindSupervise}, q.kinds())
}

func TestHandlePlanParseFallback(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Planner"] = "Not JSON"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	payload := mustMarshal(t, PlanPayload{JobID: job.ID, Description: "the full enriched description"})
	require.NoError(t, p.handlePlan(context.Background(), payload))

	tasks, _ := st.ListTasks(context.Background(), job.ID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "the full enriched description", tasks[0].Title)
}

func TestHandleHypothesizeStoresValidJSON(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Hypothesizer"] = "```json\n{\"hypotheses\": [\"h1\"]}\n```"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusHypothesizingStarted)
	require.NoError(t, p.handleHypothesize(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusHypothesized, got.Status)
	assert.JSONEq(t, `{"hypotheses":["h1"]}`, string(got.Hypotheses))
	assert.Equal(t, []string{KindSupervise}, q.kinds())
}

func TestHandleHypothesizeAdvancesOnGarbage(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Hypothesizer"] = "I can't do JSON today"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusHypothesizingStarted)
	require.NoError(t, p.handleHypothesize(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusHypothesized, got.Status)
	assert.Nil(t, got.Hypotheses)
}

func TestHandleResearchSuccess(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Researcher"] = "comprehensive findings"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusResearchingStarted)
	require.NoError(t, p.handleResearch(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusResearched, got.Status)
	assert.Equal(t, "comprehensive findings", got.Result)
}

func TestHandleResearchFailureRejectsTask(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.errs["Researcher"] = fmt.Errorf("provider timeout")
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusResearchingStarted)
	require.NoError(t, p.handleResearch(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusRejected, got.Status)
	assert.Contains(t, got.Feedback, "System Error:")
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, []string{KindSupervise}, q.kinds())
}

func TestHandleResearchRetryIncludesFeedback(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Researcher"] = "improved findings"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusResearchingRetry)
	task.Feedback = "more depth"
	require.NoError(t, p.handleResearch(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	require.Len(t, runner.inputs["Researcher"], 1)
	assert.Contains(t, runner.inputs["Researcher"][0], "PREVIOUS FEEDBACK (Must be addressed): more depth")
}

func TestHandleReviewVerdicts(t *testing.T) {
	cases := []struct {
		name         string
		output       string
		err          error
		wantStatus   models.TaskStatus
		wantFeedback string
	}{
		{"approved", `{"approved": true, "feedback": "thorough"}`, nil, models.TaskStatusApproved, "thorough"},
		{"rejected", `{"approved": false, "feedback": "more depth"}`, nil, models.TaskStatusRejected, "more depth"},
		{"parse failure", "not json at all", nil, models.TaskStatusRejected, "Parse Error"},
		{"agent error", "", fmt.Errorf("boom"), models.TaskStatusRejected, "System Error in Review"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakeStore()
			q := &fakeQueue{}
			runner := newFakeRunner()
			runner.outputs["Critic"] = tc.output
			runner.errs["Critic"] = tc.err
			p := newTestPipeline(st, runner, q, nil)

			job := st.addJob(models.JobStatusProcessing)
			task := st.addTask(job.ID, models.TaskStatusReviewStarted)
			require.NoError(t, p.handleReview(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

			got, _ := st.GetTask(context.Background(), task.ID)
			assert.Equal(t, tc.wantStatus, got.Status)
			assert.Contains(t, got.Feedback, tc.wantFeedback)
			assert.Equal(t, []string{KindSupervise}, q.kinds())
		})
	}
}

func TestHandleAggregateProducesDraft(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Reporter"] = `{"summary": "s", "key_findings": ["k"], "details": {}}`
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusGenerating)
	task := st.addTask(job.ID, models.TaskStatusApproved)
	task.Result = "findings"

	require.NoError(t, p.handleAggregate(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

	require.Equal(t, []string{KindFinalCritique}, q.kinds())
	payload := q.items[0].payload.(FinalCritiquePayload)
	assert.Equal(t, job.ID, payload.JobID)
	assert.JSONEq(t, `{"summary":"s","key_findings":["k"],"details":{}}`, string(payload.Draft))
}

func TestHandleAggregateWrapsPlainText(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Reporter"] = "This is prose, not JSON"
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusGenerating)
	st.addTask(job.ID, models.TaskStatusApproved)

	require.NoError(t, p.handleAggregate(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

	require.Len(t, q.items, 1)
	payload := q.items[0].payload.(FinalCritiquePayload)
	var wrapped models.PlainTextReport
	require.NoError(t, json.Unmarshal(payload.Draft, &wrapped))
	assert.Equal(t, "This is prose, not JSON", wrapped.Content)
	assert.Equal(t, "plain_text", wrapped.Format)
}

func TestHandleAggregateFailureFailsJob(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.errs["Reporter"] = fmt.Errorf("reporter exploded")
	chunks := &fakeChunkSaver{}
	p := newTestPipeline(st, runner, q, chunks)

	job := st.addJob(models.JobStatusGenerating)
	st.addTask(job.ID, models.TaskStatusApproved)

	require.NoError(t, p.handleAggregate(context.Background(), mustMarshal(t, JobPayload{JobID: job.ID})))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusFailed, gotJob.Status)
	assert.Contains(t, string(gotJob.Report), "reporter exploded")
	assert.Empty(t, q.kinds())
	assert.Zero(t, chunks.calls)
}

func TestHandleFinalCritiqueCompletesAndIndexes(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["FinalCritic"] = `{"approved": true, "critique": "coherent"}`
	chunks := &fakeChunkSaver{}
	p := newTestPipeline(st, runner, q, chunks)

	job := st.addJob(models.JobStatusGenerating)
	draft := json.RawMessage(`{"summary":"s","key_findings":[],"details":{}}`)
	payload := mustMarshal(t, FinalCritiquePayload{JobID: job.ID, Draft: draft})
	require.NoError(t, p.handleFinalCritique(context.Background(), payload))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCompleted, gotJob.Status)
	assert.JSONEq(t, string(draft), string(gotJob.Report))
	var critique models.FinalCritique
	require.NoError(t, json.Unmarshal(gotJob.FinalCritique, &critique))
	assert.True(t, critique.Approved)
	assert.Equal(t, 1, chunks.calls)
}

func TestHandleFinalCritiquePlainTextTreatedAsApproval(t *testing.T) {
	st := newFakeStore()
	runner := newFakeRunner()
	runner.outputs["FinalCritic"] = "Looks good overall."
	p := newTestPipeline(st, runner, &fakeQueue{}, &fakeChunkSaver{})

	job := st.addJob(models.JobStatusGenerating)
	payload := mustMarshal(t, FinalCritiquePayload{JobID: job.ID, Draft: json.RawMessage(`"plain"`)})
	require.NoError(t, p.handleFinalCritique(context.Background(), payload))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	var critique models.FinalCritique
	require.NoError(t, json.Unmarshal(gotJob.FinalCritique, &critique))
	assert.True(t, critique.Approved)
	assert.Equal(t, "Looks good overall.", critique.Critique)
}

func TestHandleFinalCritiqueCriticCrashStillCompletes(t *testing.T) {
	st := newFakeStore()
	runner := newFakeRunner()
	runner.errs["FinalCritic"] = fmt.Errorf("critic crashed")
	chunks := &fakeChunkSaver{}
	p := newTestPipeline(st, runner, &fakeQueue{}, chunks)

	job := st.addJob(models.JobStatusGenerating)
	draft := json.RawMessage(`{"summary":"kept","key_findings":[],"details":{}}`)
	payload := mustMarshal(t, FinalCritiquePayload{JobID: job.ID, Draft: draft})
	require.NoError(t, p.handleFinalCritique(context.Background(), payload))

	gotJob, _ := st.GetJob(context.Background(), job.ID)
	assert.Equal(t, models.JobStatusCompleted, gotJob.Status)
	assert.JSONEq(t, string(draft), string(gotJob.Report))
	assert.Nil(t, gotJob.FinalCritique)
}

func TestHandleResearchRedeliveryLeavesSettledTaskAlone(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Researcher"] = "late duplicate findings"
	p := newTestPipeline(st, runner, q, nil)

	// The task was already reviewed and approved when the work item comes
	// back around (crash before ack, orphan requeue).
	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusApproved)
	task.Result = "original findings"
	task.Feedback = "thorough"

	require.NoError(t, p.handleResearch(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusApproved, got.Status)
	assert.Equal(t, "original findings", got.Result)
	assert.Empty(t, q.kinds(), "a dropped duplicate must not re-enqueue the supervisor")
}

func TestHandleReviewRedeliveryKeepsVerdict(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["Critic"] = `{"approved": false, "feedback": "late rejection"}`
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusApproved)
	task.Feedback = "thorough"

	require.NoError(t, p.handleReview(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusApproved, got.Status)
	assert.Equal(t, "thorough", got.Feedback)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, q.kinds())
}

func TestHandleScoreRedeliveryIsDropped(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	runner := newFakeRunner()
	runner.outputs["EvidenceScorer"] = `{"score": 2}`
	p := newTestPipeline(st, runner, q, nil)

	job := st.addJob(models.JobStatusProcessing)
	task := st.addTask(job.ID, models.TaskStatusContradicted)
	task.EvidenceRating = json.RawMessage(`{"score": 4}`)

	require.NoError(t, p.handleScore(context.Background(), mustMarshal(t, TaskPayload{TaskID: task.ID})))

	got, _ := st.GetTask(context.Background(), task.ID)
	assert.Equal(t, models.TaskStatusContradicted, got.Status)
	assert.JSONEq(t, `{"score": 4}`, string(got.EvidenceRating))
	assert.Empty(t, q.kinds())
}

func TestAggregationContextIsDeterministic(t *testing.T) {
	tasks := []*models.Task{
		{Title: "A", Result: "ra", Hypotheses: json.RawMessage(`["h"]`)},
		{Title: "B", Result: "rb", EvidenceRating: json.RawMessage(`{"score":4}`)},
	}
	first := aggregationContext(tasks)
	second := aggregationContext(tasks)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "## Task: A")
	assert.Contains(t, first, "Evidence rating: {\"score\":4}")
}
