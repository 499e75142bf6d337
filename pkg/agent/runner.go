package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutline/scoutline/pkg/llm"
	"github.com/scoutline/scoutline/pkg/models"
)

// MaxTurns bounds one agent run; a run that still wants tools after this
// many model calls returns MaxTurnsSentinel instead.
const MaxTurns = 5

// MaxTurnsSentinel is returned when a run exhausts its turn budget
// without producing a text-only answer.
const MaxTurnsSentinel = "Max turns reached."

const logWriteTimeout = 10 * time.Second

// LogWriter persists agent conversation messages.
type LogWriter interface {
	InsertAgentLog(ctx context.Context, entry *models.AgentLog) error
}

// Runner executes agents against a model provider. Conversation turns
// are recorded through the log writer asynchronously and best-effort; a
// failed write never affects the run.
type Runner struct {
	provider    llm.Provider
	logs        LogWriter
	toolTimeout time.Duration
}

// NewRunner creates a runner. logs may be nil to disable conversation
// recording.
func NewRunner(provider llm.Provider, logs LogWriter, toolTimeout time.Duration) *Runner {
	if provider == nil {
		panic("agent.NewRunner: provider must not be nil")
	}
	return &Runner{provider: provider, logs: logs, toolTimeout: toolTimeout}
}

// Run drives one agent conversation: send history, execute any requested
// tools, repeat. Returns the agent's final text. One run is strictly
// sequential; runs for different tasks are independent.
func (r *Runner) Run(ctx context.Context, ag Agent, rc RunContext, input string) (string, error) {
	history := []llm.Message{
		{Role: llm.RoleSystem, Content: ag.Instructions},
		{Role: llm.RoleUser, Content: input},
	}
	r.record(rc, ag.Name, "user", input, nil)

	for turn := 0; turn < MaxTurns; turn++ {
		completion, err := r.provider.Generate(ctx, history, ag.Tools.Definitions(), ag.MaxTokens)
		if err != nil {
			return "", fmt.Errorf("agent %s generation failed: %w", ag.Name, err)
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		r.record(rc, ag.Name, "assistant", completion.Content, marshalToolCalls(completion.ToolCalls))

		if len(completion.ToolCalls) == 0 {
			return completion.Content, nil
		}

		for _, tc := range completion.ToolCalls {
			result := r.runTool(ctx, ag, tc)
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
			r.record(rc, ag.Name, "tool", result, nil)
		}
	}
	return MaxTurnsSentinel, nil
}

// runTool executes one tool call. Errors and panics become error text in
// the conversation so the model can react; they never abort the run.
func (r *Runner) runTool(ctx context.Context, ag Agent, tc llm.ToolCall) (result string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "agent", ag.Name, "tool", tc.Name, "panic", rec)
			result = fmt.Sprintf("Error executing tool: panic: %v", rec)
		}
	}()

	toolCtx := ctx
	if r.toolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, r.toolTimeout)
		defer cancel()
	}

	slog.Info("Executing tool", "agent", ag.Name, "tool", tc.Name)
	out, err := ag.Tools.Run(toolCtx, tc.Name, tc.Input)
	if err != nil {
		return fmt.Sprintf("Error executing tool: %v", err)
	}
	return out
}

// record persists one conversation message asynchronously.
func (r *Runner) record(rc RunContext, agentName, role, content string, toolCalls json.RawMessage) {
	if r.logs == nil {
		return
	}
	entry := &models.AgentLog{
		JobID:     rc.JobID,
		TaskID:    rc.TaskID,
		AgentName: agentName,
		Role:      role,
		Content:   content,
		ToolCalls: toolCalls,
		Timestamp: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		defer cancel()
		if err := r.logs.InsertAgentLog(ctx, entry); err != nil {
			slog.Warn("Failed to persist agent log", "agent", agentName, "role", role, "error", err)
		}
	}()
}

func marshalToolCalls(calls []llm.ToolCall) json.RawMessage {
	if len(calls) == 0 {
		return nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return nil
	}
	return raw
}
