// Package agent defines the LLM agent personas and the runner that
// drives their tool-calling conversations.
package agent

import (
	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/tools"
)

// Agent is a named LLM persona: system prompt, tool whitelist, and token
// budget. Agents are plain values; behaviour differences live entirely
// in the fields.
type Agent struct {
	Name         string
	Instructions string
	Tools        *tools.Set
	MaxTokens    int
}

// RunContext carries the job (and optionally task) a run belongs to, so
// the conversation can be attributed in the agent log.
type RunContext struct {
	JobID  uuid.UUID
	TaskID *uuid.UUID
}
