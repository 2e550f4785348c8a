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

const contextColumns = `id, run_id, agent_id, context_key, version, payload, size_bytes, mode, metadata, created_at`

// InsertContext appends a new immutable version for the entry's
// (run, agent, key). The version is assigned in the INSERT itself so
// concurrent writers cannot produce duplicates — the unique constraint
// on (run_id, agent_id, context_key, version) backstops it.
func (db *DB) InsertContext(ctx context.Context, entry model.ContextEntry) (int, error) {
	var version int
	err := db.pool.QueryRow(ctx,
		`INSERT INTO context_entries (id, run_id, agent_id, context_key, version, payload, size_bytes, mode, metadata, created_at)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COALESCE(MAX(version), 0) + 1
		          FROM context_entries
		          WHERE run_id = $2 AND agent_id = $3 AND context_key = $4),
		         $5, $6, $7, $8, $9)
		 RETURNING version`,
		entry.ID, entry.RunID, entry.AgentID, entry.Key,
		entry.Payload, entry.SizeBytes, string(entry.Mode), entry.Metadata, entry.CreatedAt,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("storage: insert context: %w", err)
	}
	return version, nil
}

// LatestContext returns the highest version of a key.
func (db *DB) LatestContext(ctx context.Context, runID, agentID uuid.UUID, key string) (model.ContextEntry, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contextColumns+`
		 FROM context_entries
		 WHERE run_id = $1 AND agent_id = $2 AND context_key = $3
		 ORDER BY version DESC LIMIT 1`,
		runID, agentID, key)
	entry, err := scanContext(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ContextEntry{}, store.ErrNotFound
		}
		return model.ContextEntry{}, fmt.Errorf("storage: latest context: %w", err)
	}
	return entry, nil
}

// GetContextVersion returns one exact version snapshot. Distinguishes an
// unknown key (ErrNotFound) from a missing version of a known key
// (ErrVersionNotFound).
func (db *DB) GetContextVersion(ctx context.Context, runID, agentID uuid.UUID, key string, version int) (model.ContextEntry, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contextColumns+`
		 FROM context_entries
		 WHERE run_id = $1 AND agent_id = $2 AND context_key = $3 AND version = $4`,
		runID, agentID, key, version)
	entry, err := scanContext(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ContextEntry{}, fmt.Errorf("storage: get context version: %w", err)
	}

	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM context_entries WHERE run_id = $1 AND agent_id = $2 AND context_key = $3)`,
		runID, agentID, key,
	).Scan(&exists); err != nil {
		return model.ContextEntry{}, fmt.Errorf("storage: check context key: %w", err)
	}
	if exists {
		return model.ContextEntry{}, store.ErrVersionNotFound
	}
	return model.ContextEntry{}, store.ErrNotFound
}

// LatestContexts returns the latest version of every key matching the
// filter, ordered by agent then key.
func (db *DB) LatestContexts(ctx context.Context, filter store.ContextFilter) ([]model.ContextEntry, error) {
	query := `SELECT DISTINCT ON (agent_id, context_key) ` + contextColumns + `
	          FROM context_entries WHERE run_id = $1`
	args := []any{filter.RunID}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	if filter.Key != "" {
		args = append(args, filter.Key)
		query += fmt.Sprintf(" AND context_key = $%d", len(args))
	}
	query += ` ORDER BY agent_id, context_key, version DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: latest contexts: %w", err)
	}
	defer rows.Close()

	var entries []model.ContextEntry
	for rows.Next() {
		entry, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan context: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListContexts summarizes keys without transferring payloads.
func (db *DB) ListContexts(ctx context.Context, runID uuid.UUID, agentID *uuid.UUID) ([]model.ContextListing, error) {
	query := `SELECT agent_id, context_key,
	                 (ARRAY_AGG(size_bytes ORDER BY version DESC))[1],
	                 COUNT(*), MAX(created_at)
	          FROM context_entries WHERE run_id = $1`
	args := []any{runID}
	if agentID != nil {
		args = append(args, *agentID)
		query += fmt.Sprintf(" AND agent_id = $%d", len(args))
	}
	query += ` GROUP BY agent_id, context_key ORDER BY agent_id, context_key`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list contexts: %w", err)
	}
	defer rows.Close()

	var listings []model.ContextListing
	for rows.Next() {
		var l model.ContextListing
		if err := rows.Scan(&l.AgentID, &l.Key, &l.SizeBytes, &l.VersionCount, &l.LastModified); err != nil {
			return nil, fmt.Errorf("storage: scan context listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanContext(row pgx.Row) (model.ContextEntry, error) {
	var (
		entry model.ContextEntry
		mode  string
	)
	if err := row.Scan(
		&entry.ID, &entry.RunID, &entry.AgentID, &entry.Key, &entry.Version,
		&entry.Payload, &entry.SizeBytes, &mode, &entry.Metadata, &entry.CreatedAt,
	); err != nil {
		return model.ContextEntry{}, err
	}
	entry.Mode = model.WriteMode(mode)
	return entry, nil
}
