package model

import (
	"time"

	"github.com/google/uuid"
)

// LogLevel is the severity of one run log entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	return l == LogInfo || l == LogWarn || l == LogError
}

// LogEntry is one structured run log record.
// The run log is append-only: entries are never mutated or deleted.
type LogEntry struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	AgentID   *uuid.UUID     `json:"agent_id,omitempty"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
