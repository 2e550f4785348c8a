// Package storage provides the PostgreSQL storage layer for Lacuna.
//
// It manages connection pooling via pgxpool and implements store.Store
// for runs, agents, context entries, results, and logs.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/lacuna-ai/lacuna/internal/telemetry"
)

// DB wraps a pgxpool.Pool and implements store.Store.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// RegisterPoolMetrics registers observable OTEL gauges for pool health.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("lacuna/storage")

	_, _ = meter.Int64ObservableGauge("lacuna.db.connections.total",
		metric.WithDescription("Total connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().TotalConns()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("lacuna.db.connections.idle",
		metric.WithDescription("Idle connections in the pgx pool"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(db.pool.Stat().IdleConns()))
			return nil
		}),
	)
}
