package models

import (
	"encoding/json"
	"strings"
)

// Typed variants for agent outputs. Agents return JSON text; each handler
// parses into the matching variant and falls back to a raw wrapper when
// the output does not parse (soft-signal phases) or rejects the task
// (review phase).

// PlanTaskList is the planner's output: one title per research task.
type PlanTaskList []string

// CriticVerdict is the reviewer's decision for a single task.
type CriticVerdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// EvidenceRating grades the strength of a task's findings.
type EvidenceRating struct {
	Score         int      `json:"score"` // 1 (weak) .. 5 (strong)
	Justification string   `json:"justification"`
	WeakPoints    []string `json:"weak_points,omitempty"`
}

// ContradictionReport lists claims that conflict with the task's findings.
type ContradictionReport struct {
	Found          bool     `json:"found"`
	Contradictions []string `json:"contradictions,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// ReportDraft is the aggregated structured report.
type ReportDraft struct {
	Summary     string                     `json:"summary"`
	KeyFindings []string                   `json:"key_findings"`
	Details     map[string]json.RawMessage `json:"details"`
}

// PlainTextReport is the fallback shape when the reporter's output does
// not parse as JSON.
type PlainTextReport struct {
	Content string `json:"content"`
	Format  string `json:"format"` // always "plain_text"
}

// FinalCritique is the final critic's verdict on the whole report.
type FinalCritique struct {
	Approved      bool     `json:"approved"`
	Critique      string   `json:"critique"`
	RequiredEdits []string `json:"required_edits,omitempty"`
}

// CleanJSON strips markdown code fences that models wrap around JSON
// output. The result is still unvalidated text.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseAgentJSON cleans code fences and unmarshals into v.
func ParseAgentJSON(raw string, v any) error {
	return json.Unmarshal([]byte(CleanJSON(raw)), v)
}
