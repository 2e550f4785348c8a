package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxQueryLen bounds the research query accepted at run creation.
const MaxQueryLen = 2000

// ValidateQuery checks the research query for run creation.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if len(q) > MaxQueryLen {
		return fmt.Errorf("query exceeds maximum length of %d characters", MaxQueryLen)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// CreateRunRequest is the body of POST /v1/runs. A nil Config gets full
// defaults, including the default convergence threshold; an explicit
// Config is taken as given, so convergence_threshold 0.0 means a
// single-round run.
type CreateRunRequest struct {
	Query   string     `json:"query"`
	OwnerID string     `json:"owner_id,omitempty"`
	Config  *RunConfig `json:"config,omitempty"`
}

// ExecuteRunRequest is the body of POST /v1/runs/{run_id}/execute.
type ExecuteRunRequest struct {
	Papers       []Paper `json:"papers"`
	AgentBackend string  `json:"agent_backend,omitempty"`
}

// WriteContextRequest is the body of POST /v1/contexts/write.
type WriteContextRequest struct {
	RunID    uuid.UUID       `json:"run_id"`
	AgentID  uuid.UUID       `json:"agent_id"`
	Key      string          `json:"context_key"`
	Data     json.RawMessage `json:"data"`
	Mode     WriteMode       `json:"mode,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// WriteContextResponse reports the version a context write produced.
type WriteContextResponse struct {
	Version   int `json:"version"`
	SizeBytes int `json:"size_bytes"`
}

// ReadContextRequest is the body of POST /v1/contexts/read.
type ReadContextRequest struct {
	RunID       uuid.UUID  `json:"run_id"`
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
	Key         string     `json:"context_key,omitempty"`
	SummaryOnly bool       `json:"summary_only,omitempty"`
	Version     *int       `json:"version,omitempty"`
}

// Progress is the orchestrator's status snapshot for one run.
// Derived purely from persisted state: repeated calls without intervening
// writes return identical values.
type Progress struct {
	RunID           uuid.UUID         `json:"run_id"`
	Status          RunStatus         `json:"status"`
	PercentComplete float64           `json:"percent_complete"`
	CurrentDepth    int               `json:"current_depth"`
	AgentsByStatus  map[string]int    `json:"agents_by_status"`
	AgentsByKind    map[string]int    `json:"agents_by_kind"`
	TotalAgents     int               `json:"total_agents"`
	ElapsedMs       int64             `json:"elapsed_ms"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	RecentLogs      []LogEntry        `json:"recent_logs,omitempty"`
}

// Health is the engine health report.
type Health struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds,omitempty"`
	StalledRuns   []uuid.UUID `json:"stalled_runs,omitempty"`
}

// QueueStats are the scheduler's cumulative task counters.
type QueueStats struct {
	MaxWorkers     int   `json:"max_workers"`
	InFlight       int64 `json:"in_flight"`
	TasksLaunched  int64 `json:"tasks_launched"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksSkipped   int64 `json:"tasks_skipped"`
	TaskRetries    int64 `json:"task_retries"`
}
