package storage

import (
	"context"
	"fmt"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// AppendLog appends one entry to the run log. The log table is
// append-only: no update or delete statements exist in this package.
func (db *DB) AppendLog(ctx context.Context, entry model.LogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO logs (id, run_id, agent_id, level, message, context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RunID, entry.AgentID, string(entry.Level),
		entry.Message, entry.Context, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: append log: %w", err)
	}
	return nil
}

// ListLogs returns log entries matching the filter plus the total count
// before limit/offset, ordered oldest first.
func (db *DB) ListLogs(ctx context.Context, filter store.LogFilter) ([]model.LogEntry, int, error) {
	countQuery := `SELECT COUNT(*) FROM logs WHERE run_id = $1`
	listQuery := `SELECT id, run_id, agent_id, level, message, context, created_at
	              FROM logs WHERE run_id = $1`
	args := []any{filter.RunID}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		cond := fmt.Sprintf(" AND level = $%d", len(args))
		countQuery += cond
		listQuery += cond
	}

	var total int
	if err := db.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count logs: %w", err)
	}

	listQuery += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		listQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		listQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list logs: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var (
			e     model.LogEntry
			level string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.AgentID, &level, &e.Message, &e.Context, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan log: %w", err)
		}
		e.Level = model.LogLevel(level)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
