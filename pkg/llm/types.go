// Package llm defines the provider-neutral model interface and its
// Bedrock and OpenAI-compatible implementations.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scoutline/scoutline/pkg/config"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a model conversation. Assistant messages may
// carry tool calls; tool messages carry the result for one call and must
// set ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolDefinition describes a callable tool to the model. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Completion is one model response turn.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider generates completions and embeddings. Implementations apply
// the configured per-call timeout internally.
type Provider interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, maxTokens int) (*Completion, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "bedrock":
		return NewBedrockProvider(ctx, cfg)
	case "openai":
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
