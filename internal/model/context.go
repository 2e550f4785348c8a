package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WriteMode controls how a context write relates to the prior latest version.
type WriteMode string

const (
	// WriteOverwrite creates a new version whose payload replaces prior content.
	WriteOverwrite WriteMode = "overwrite"
	// WriteAppend creates a new version whose payload is the merge of the
	// prior latest version and the new data. With no prior version, append
	// falls back to overwrite semantics.
	WriteAppend WriteMode = "append"
)

// Valid reports whether m is a known write mode.
func (m WriteMode) Valid() bool {
	return m == WriteOverwrite || m == WriteAppend
}

// ContextEntry is one immutable version of a context key.
//
// Identity is the composite (RunID, AgentID, Key, Version). Versions for a
// given (run, agent, key) start at 1 and are strictly increasing; a write
// always creates a new version, never mutates an existing one.
type ContextEntry struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	AgentID   uuid.UUID       `json:"agent_id"`
	Key       string          `json:"context_key"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	SizeBytes int             `json:"size_bytes"`
	Mode      WriteMode       `json:"mode"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ContextListing summarizes one context key without its payload.
type ContextListing struct {
	AgentID      uuid.UUID `json:"agent_id"`
	Key          string    `json:"context_key"`
	SizeBytes    int       `json:"size_bytes"`
	VersionCount int       `json:"version_count"`
	LastModified time.Time `json:"last_modified"`
}
