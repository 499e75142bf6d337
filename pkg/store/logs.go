package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scoutline/scoutline/pkg/models"
)

// InsertAgentLog records one agent conversation turn.
func (s *Store) InsertAgentLog(ctx context.Context, log *models.AgentLog) error {
	id := log.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO agent_logs (id, job_id, task_id, agent_name, role, content, tool_calls)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, log.JobID, log.TaskID, log.AgentName, log.Role, log.Content, log.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	return nil
}

// ListAgentLogs returns a job's agent turns in chronological order.
func (s *Store) ListAgentLogs(ctx context.Context, jobID uuid.UUID) ([]*models.AgentLog, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, job_id, task_id, agent_name, role, content, tool_calls, timestamp
		 FROM agent_logs WHERE job_id = $1 ORDER BY timestamp, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AgentLog
	for rows.Next() {
		var l models.AgentLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.TaskID, &l.AgentName, &l.Role,
			&l.Content, &l.ToolCalls, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent logs: %w", err)
	}
	return logs, nil
}
