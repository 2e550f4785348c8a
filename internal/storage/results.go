package storage

import (
	"context"
	"fmt"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// InsertResult stores one agent output.
func (db *DB) InsertResult(ctx context.Context, result model.Result) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO results (id, run_id, agent_id, type, depth, content, confidence, citations, is_final, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.ID, result.RunID, result.AgentID, string(result.Type), result.Depth,
		result.Content, result.Confidence, result.Citations, result.IsFinal, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert result: %w", err)
	}
	return nil
}

// ListResults returns results matching the filter in creation order.
func (db *DB) ListResults(ctx context.Context, filter store.ResultFilter) ([]model.Result, error) {
	query := `SELECT id, run_id, agent_id, type, depth, content, confidence, citations, is_final, created_at
	          FROM results WHERE run_id = $1`
	args := []any{filter.RunID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.FinalOnly {
		query += ` AND is_final`
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var (
			r   model.Result
			typ string
		)
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.AgentID, &typ, &r.Depth,
			&r.Content, &r.Confidence, &r.Citations, &r.IsFinal, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan result: %w", err)
		}
		r.Type = model.ResultType(typ)
		results = append(results, r)
	}
	return results, rows.Err()
}
