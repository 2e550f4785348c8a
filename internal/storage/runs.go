package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

const runColumns = `id, owner_id, query, status, config, error_message, created_at, started_at, completed_at`

// CreateRun inserts a new run record.
func (db *DB) CreateRun(ctx context.Context, run model.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("storage: marshal run config: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.OwnerID, run.Query, string(run.Status), cfg,
		run.ErrorMessage, run.CreatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Run{}, store.ErrNotFound
		}
		return model.Run{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// TransitionRun atomically moves a run between statuses, stamping
// started_at/completed_at as appropriate.
func (db *DB) TransitionRun(ctx context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) error {
	now := time.Now().UTC()

	var startedAt, completedAt *time.Time
	if to == model.RunStatusExecuting {
		startedAt = &now
	}
	if to.Terminal() {
		completedAt = &now
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE runs
		 SET status = $1,
		     error_message = CASE WHEN $2 <> '' THEN $2 ELSE error_message END,
		     started_at = COALESCE(started_at, $3),
		     completed_at = COALESCE($4, completed_at)
		 WHERE id = $5 AND status = $6`,
		string(to), errorMessage, startedAt, completedAt, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("storage: transition run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing run from a state mismatch.
		if _, err := db.GetRun(ctx, id); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

// ListRunsByStatus returns runs in a given status, oldest first.
func (db *DB) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (model.Run, error) {
	var (
		run    model.Run
		status string
		cfg    []byte
	)
	if err := row.Scan(
		&run.ID, &run.OwnerID, &run.Query, &status, &cfg,
		&run.ErrorMessage, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	); err != nil {
		return model.Run{}, err
	}
	run.Status = model.RunStatus(status)
	if err := json.Unmarshal(cfg, &run.Config); err != nil {
		return model.Run{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return run, nil
}
