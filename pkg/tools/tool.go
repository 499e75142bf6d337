// Package tools implements the agent-callable tools and the registry
// handed to the agent runner.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scoutline/scoutline/pkg/llm"
)

// Tool is one callable capability exposed to an agent. Run returns the
// text handed back to the model; returned errors are converted to error
// text by the runner, never raised to the pipeline.
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// Set is a named collection of tools.
type Set struct {
	tools map[string]Tool
	defs  []llm.ToolDefinition
}

// NewSet builds a set. Duplicate names panic.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := s.tools[t.Name()]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", t.Name()))
		}
		s.tools[t.Name()] = t
		s.defs = append(s.defs, t.Definition())
	}
	return s
}

// Definitions returns the tool definitions in registration order.
func (s *Set) Definitions() []llm.ToolDefinition {
	if s == nil {
		return nil
	}
	return s.defs
}

// Run dispatches a call to the named tool.
func (s *Set) Run(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no tools available")
	}
	t, ok := s.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.Run(ctx, args)
}
