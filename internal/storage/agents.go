package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

const agentColumns = `id, run_id, kind, depth, status, retries, execution_ms, error, metadata, created_at, started_at, completed_at`

// CreateAgent inserts a newly spawned agent.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		agent.ID, agent.RunID, string(agent.Kind), agent.Depth, string(agent.Status),
		agent.Retries, agent.ExecutionMs, agent.Error, agent.Metadata,
		agent.CreatedAt, agent.StartedAt, agent.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create agent: %w", err)
	}
	return nil
}

// UpdateAgent replaces a non-terminal agent record. Terminal agents are
// immutable; updating one returns store.ErrConflict.
func (db *DB) UpdateAgent(ctx context.Context, agent model.Agent) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents
		 SET status = $1, retries = $2, execution_ms = $3, error = $4,
		     metadata = $5, started_at = $6, completed_at = $7
		 WHERE id = $8 AND status IN ('pending', 'active')`,
		string(agent.Status), agent.Retries, agent.ExecutionMs, agent.Error,
		agent.Metadata, agent.StartedAt, agent.CompletedAt, agent.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetAgent(ctx, agent.ID); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (db *DB) GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, store.ErrNotFound
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents for a run ordered by depth, then creation.
func (db *DB) ListAgents(ctx context.Context, runID uuid.UUID) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE run_id = $1 ORDER BY depth, created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row pgx.Row) (model.Agent, error) {
	var (
		agent  model.Agent
		kind   string
		status string
	)
	if err := row.Scan(
		&agent.ID, &agent.RunID, &kind, &agent.Depth, &status,
		&agent.Retries, &agent.ExecutionMs, &agent.Error, &agent.Metadata,
		&agent.CreatedAt, &agent.StartedAt, &agent.CompletedAt,
	); err != nil {
		return model.Agent{}, err
	}
	agent.Kind = model.AgentKind(kind)
	agent.Status = model.AgentStatus(status)
	return agent, nil
}
