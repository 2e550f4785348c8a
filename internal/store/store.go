// Package store defines the persistence interface for the orchestration
// engine and an in-memory implementation.
//
// The engine takes a Store by injection — there are no process-wide
// singletons. Production wiring uses the Postgres implementation in
// internal/storage; tests and single-process deployments use Memory.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/model"
)

var (
	// ErrNotFound is returned for unknown runs, agents, or context keys.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionNotFound is returned when a specific context version does
	// not exist for a key that does.
	ErrVersionNotFound = errors.New("store: version not found")
	// ErrConflict is returned when a guarded status transition does not
	// match the run's current state.
	ErrConflict = errors.New("store: conflicting state transition")
)

// ContextFilter narrows context reads. A nil AgentID or empty Key matches
// all agents or keys within the run.
type ContextFilter struct {
	RunID   uuid.UUID
	AgentID *uuid.UUID
	Key     string
}

// ResultFilter narrows result listings.
type ResultFilter struct {
	RunID     uuid.UUID
	Type      model.ResultType // empty = all types
	FinalOnly bool
}

// LogFilter narrows log listings.
type LogFilter struct {
	RunID  uuid.UUID
	Level  model.LogLevel // empty = all levels
	Limit  int
	Offset int
}

// Store is the registry for run, agent, context, result, and log state.
//
// All writes are scoped by run identifier, so concurrent runs never
// contend. Within one run the scheduler is the only writer of agent
// status transitions.
type Store interface {
	// Runs.
	CreateRun(ctx context.Context, run model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (model.Run, error)
	// TransitionRun atomically moves a run from one status to another,
	// stamping started_at/completed_at as appropriate. Returns ErrConflict
	// when the run exists but is not in the expected state.
	TransitionRun(ctx context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) error
	ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error)

	// Agents.
	CreateAgent(ctx context.Context, agent model.Agent) error
	UpdateAgent(ctx context.Context, agent model.Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (model.Agent, error)
	ListAgents(ctx context.Context, runID uuid.UUID) ([]model.Agent, error)

	// Context entries. InsertContext assigns the next version for the
	// entry's (run, agent, key) atomically and returns it.
	InsertContext(ctx context.Context, entry model.ContextEntry) (int, error)
	LatestContext(ctx context.Context, runID, agentID uuid.UUID, key string) (model.ContextEntry, error)
	GetContextVersion(ctx context.Context, runID, agentID uuid.UUID, key string, version int) (model.ContextEntry, error)
	// LatestContexts returns the latest version of every key matching the
	// filter, ordered by agent then key.
	LatestContexts(ctx context.Context, filter ContextFilter) ([]model.ContextEntry, error)
	ListContexts(ctx context.Context, runID uuid.UUID, agentID *uuid.UUID) ([]model.ContextListing, error)

	// Results.
	InsertResult(ctx context.Context, result model.Result) error
	ListResults(ctx context.Context, filter ResultFilter) ([]model.Result, error)

	// Logs. Append-only.
	AppendLog(ctx context.Context, entry model.LogEntry) error
	ListLogs(ctx context.Context, filter LogFilter) ([]model.LogEntry, int, error)

	// Ping checks that the backing substrate is reachable.
	Ping(ctx context.Context) error
}
