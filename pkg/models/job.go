// Package models defines the domain types shared across the service:
// jobs, tasks, chunks, agent logs, and the typed agent output payloads.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Public maps internal job statuses to the client-visible status set.
// "generating" is an internal guard state for single-shot aggregation and
// surfaces as "processing".
func (s JobStatus) Public() JobStatus {
	if s == JobStatusGenerating {
		return JobStatusProcessing
	}
	return s
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a single research request and its eventual report.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	Idea          string          `json:"idea"`
	Description   string          `json:"description,omitempty"`
	Status        JobStatus       `json:"status"`
	Report        json.RawMessage `json:"report,omitempty"`
	FinalCritique json.RawMessage `json:"final_critique,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Chunk is a paragraph of approved report text with its embedding,
// used by the RAG search tool.
type Chunk struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentLog records one turn of one agent's conversation.
type AgentLog struct {
	ID        uuid.UUID       `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	TaskID    *uuid.UUID      `json:"task_id,omitempty"`
	AgentName string          `json:"agent_name"`
	Role      string          `json:"role"` // user, assistant, tool
	Content   string          `json:"content"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
