package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentKind is the closed set of agent tiers. Dispatch is always a switch
// over this enum — there is no runtime type inspection of executors.
type AgentKind string

const (
	// AgentMicro analyzes a single paper in isolation.
	AgentMicro AgentKind = "micro"
	// AgentMeso clusters the completed micro findings of one depth round.
	AgentMeso AgentKind = "meso"
	// AgentMeta synthesizes clusters into ranked research gaps.
	AgentMeta AgentKind = "meta"
)

// Valid reports whether k is a known agent kind.
func (k AgentKind) Valid() bool {
	return k == AgentMicro || k == AgentMeso || k == AgentMeta
}

// AgentStatus represents the execution state of one agent.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusActive    AgentStatus = "active"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	// AgentStatusSkipped marks a micro agent whose input paper could not be
	// retrieved or parsed. Skipped agents are excluded from barrier input
	// without failing the round.
	AgentStatusSkipped AgentStatus = "skipped"
)

// Terminal reports whether the status is terminal. Terminal agents are
// immutable.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed || s == AgentStatusSkipped
}

// Agent is one scheduled executor within a run. Created when the scheduler
// spawns it; mutated only by its own execution and the barrier coordinator.
type Agent struct {
	ID          uuid.UUID      `json:"id"`
	RunID       uuid.UUID      `json:"run_id"`
	Kind        AgentKind      `json:"kind"`
	Depth       int            `json:"depth"`
	Status      AgentStatus    `json:"status"`
	Retries     int            `json:"retries"`
	ExecutionMs int64          `json:"execution_ms"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
