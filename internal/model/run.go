// Package model defines the core domain types for Lacuna.
//
// All types correspond directly to database tables and API payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an orchestration run.
type RunStatus string

const (
	RunStatusInitializing RunStatus = "initializing"
	RunStatusExecuting    RunStatus = "executing"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
// Terminal runs are never mutated again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// FocusStrategy selects which papers deeper rounds re-examine.
type FocusStrategy string

const (
	// FocusAll re-runs micro analysis over the full paper set every round.
	FocusAll FocusStrategy = "all"
	// FocusGapLinked narrows deeper rounds to papers cited by the
	// top-ranked gaps of the previous round.
	FocusGapLinked FocusStrategy = "gap_linked"
)

// Default run configuration bounds. MaxDepth and MaxAgents are capped to
// keep a single run from monopolizing the inference backend.
const (
	DefaultMaxDepth             = 3
	DefaultMaxAgents            = 5
	DefaultMaxRetries           = 2
	DefaultRunTimeout           = 5 * time.Minute
	DefaultAgentTimeout         = 30 * time.Second
	DefaultConvergenceThreshold = 0.85
	DefaultConfidenceThreshold  = 0.3

	MaxDepthLimit  = 10
	MaxAgentsLimit = 50
)

// ScoreWeights are the per-criterion weights used to combine gap scores
// into a total. A zero value falls back to equal weighting.
type ScoreWeights struct {
	Importance  float64 `json:"importance"`
	Novelty     float64 `json:"novelty"`
	Feasibility float64 `json:"feasibility"`
	Impact      float64 `json:"impact"`
}

// IsZero reports whether no weight has been set.
func (w ScoreWeights) IsZero() bool {
	return w.Importance == 0 && w.Novelty == 0 && w.Feasibility == 0 && w.Impact == 0
}

// RunConfig controls how a run is scheduled and when it terminates.
//
// ConvergenceThreshold is compared against the similarity of successive
// rounds' gap rankings: 0.0 terminates after a single round, a value
// above 1.0 disables early convergence so the run always reaches MaxDepth.
type RunConfig struct {
	MaxDepth             int           `json:"max_depth"`
	MaxAgents            int           `json:"max_agents"`
	Timeout              time.Duration `json:"timeout"`
	AgentTimeout         time.Duration `json:"agent_timeout"`
	MaxRetries           int           `json:"max_retries"`
	ConfidenceThreshold  float64       `json:"confidence_threshold"`
	ConvergenceThreshold float64       `json:"convergence_threshold"`
	EnableCritic         bool          `json:"enable_critic"`
	ScoreWeights         ScoreWeights  `json:"score_weights"`
	FocusStrategy        FocusStrategy `json:"focus_strategy,omitempty"`
}

// WithDefaults fills unset fields with defaults and clamps bounded ones.
// ConvergenceThreshold is left as given: an explicit 0.0 is meaningful
// (terminate after one round), so callers that want the default must set
// it themselves via DefaultConvergenceThreshold.
func (c RunConfig) WithDefaults() RunConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxDepth > MaxDepthLimit {
		c.MaxDepth = MaxDepthLimit
	}
	if c.MaxAgents <= 0 {
		c.MaxAgents = DefaultMaxAgents
	}
	if c.MaxAgents > MaxAgentsLimit {
		c.MaxAgents = MaxAgentsLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRunTimeout
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.FocusStrategy == "" {
		c.FocusStrategy = FocusAll
	}
	return c
}

// Validate checks bounds that WithDefaults cannot repair.
func (c RunConfig) Validate() error {
	if c.FocusStrategy != "" && c.FocusStrategy != FocusAll && c.FocusStrategy != FocusGapLinked {
		return fmt.Errorf("unknown focus_strategy %q", c.FocusStrategy)
	}
	if c.ConvergenceThreshold < 0 {
		return fmt.Errorf("convergence_threshold must be >= 0")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	return nil
}

// Run is one end-to-end orchestration execution for a single research query.
// Mutated only by the orchestrator; terminal once completed/failed/cancelled.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      string     `json:"owner_id,omitempty"`
	Query        string     `json:"query"`
	Status       RunStatus  `json:"status"`
	Config       RunConfig  `json:"config"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
