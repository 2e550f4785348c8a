// Package contexts implements the versioned context store agents use to
// exchange intermediate outputs between pipeline stages and depth rounds.
//
// Every write creates a new immutable version for its (run, agent, key);
// reads can address the latest version, an exact historical snapshot, or
// a bounded summary projection suitable for passing into downstream agent
// prompts without re-reading multi-megabyte payloads.
package contexts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

var (
	// ErrInvalidMode is returned for write modes other than
	// overwrite/append.
	ErrInvalidMode = errors.New("contexts: invalid write mode")
	// ErrInvalidRequest is returned for malformed read/write requests.
	ErrInvalidRequest = errors.New("contexts: invalid request")
)

// MaxPayloadBytes bounds a single context payload.
const MaxPayloadBytes = 4 << 20 // 4 MB

// summaryStringLimit is the rune cap applied to strings in summary
// projections.
const summaryStringLimit = 512

// Service is the context store. It layers write-mode and summary
// semantics over the injected store.Store.
type Service struct {
	st     store.Store
	logger *slog.Logger
}

// New creates a context store service.
func New(st store.Store, logger *slog.Logger) *Service {
	return &Service{st: st, logger: logger}
}

// Write creates a new version for (run, agent, key).
//
// Overwrite mode stores the payload as-is. Append mode merges the prior
// latest payload with the new one: two JSON arrays concatenate, two JSON
// objects merge key-wise (new keys win), anything else becomes a
// two-element array of [prior, new]. Append with no prior version falls
// back to overwrite semantics.
func (s *Service) Write(ctx context.Context, req model.WriteContextRequest) (model.WriteContextResponse, error) {
	if req.Key == "" {
		return model.WriteContextResponse{}, fmt.Errorf("%w: context_key is required", ErrInvalidRequest)
	}
	if len(req.Data) == 0 {
		return model.WriteContextResponse{}, fmt.Errorf("%w: data is required", ErrInvalidRequest)
	}
	if len(req.Data) > MaxPayloadBytes {
		return model.WriteContextResponse{}, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidRequest, MaxPayloadBytes)
	}
	if !json.Valid(req.Data) {
		return model.WriteContextResponse{}, fmt.Errorf("%w: data must be valid JSON", ErrInvalidRequest)
	}

	mode := req.Mode
	if mode == "" {
		mode = model.WriteOverwrite
	}
	if !mode.Valid() {
		return model.WriteContextResponse{}, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	// The run must exist; context entries are always run-scoped.
	if _, err := s.st.GetRun(ctx, req.RunID); err != nil {
		return model.WriteContextResponse{}, err
	}

	payload := req.Data
	if mode == model.WriteAppend {
		prior, err := s.st.LatestContext(ctx, req.RunID, req.AgentID, req.Key)
		switch {
		case err == nil:
			payload = mergePayloads(prior.Payload, req.Data)
		case errors.Is(err, store.ErrNotFound):
			// First write under append mode: overwrite semantics.
		default:
			return model.WriteContextResponse{}, err
		}
	}

	entry := model.ContextEntry{
		ID:        uuid.New(),
		RunID:     req.RunID,
		AgentID:   req.AgentID,
		Key:       req.Key,
		Payload:   payload,
		SizeBytes: len(payload),
		Mode:      mode,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	version, err := s.st.InsertContext(ctx, entry)
	if err != nil {
		return model.WriteContextResponse{}, err
	}

	s.logger.Debug("contexts: wrote entry",
		"run_id", req.RunID, "agent_id", req.AgentID,
		"key", req.Key, "version", version, "size_bytes", entry.SizeBytes)

	return model.WriteContextResponse{Version: version, SizeBytes: entry.SizeBytes}, nil
}

// Summary is a bounded projection of one context entry.
type Summary struct {
	AgentID   uuid.UUID       `json:"agent_id"`
	Key       string          `json:"context_key"`
	Version   int             `json:"version"`
	SizeBytes int             `json:"size_bytes"`
	Preview   json.RawMessage `json:"preview"`
}

// ReadResponse holds either full entries or summaries, depending on the
// request's summary_only flag.
type ReadResponse struct {
	Entries   []model.ContextEntry `json:"entries,omitempty"`
	Summaries []Summary            `json:"summaries,omitempty"`
}

// Read retrieves context entries.
//
// A specific version requires both agent and key and returns that exact
// snapshot. Omitting the version returns the latest; omitting agent or
// key aggregates the latest version of every matching key in the run.
func (s *Service) Read(ctx context.Context, req model.ReadContextRequest) (ReadResponse, error) {
	if req.Version != nil && (req.AgentID == nil || req.Key == "") {
		return ReadResponse{}, fmt.Errorf("%w: version requires agent_id and context_key", ErrInvalidRequest)
	}

	var (
		entries []model.ContextEntry
		err     error
	)
	switch {
	case req.Version != nil:
		var entry model.ContextEntry
		entry, err = s.st.GetContextVersion(ctx, req.RunID, *req.AgentID, req.Key, *req.Version)
		entries = []model.ContextEntry{entry}
	case req.AgentID != nil && req.Key != "":
		var entry model.ContextEntry
		entry, err = s.st.LatestContext(ctx, req.RunID, *req.AgentID, req.Key)
		entries = []model.ContextEntry{entry}
	default:
		entries, err = s.st.LatestContexts(ctx, store.ContextFilter{
			RunID:   req.RunID,
			AgentID: req.AgentID,
			Key:     req.Key,
		})
	}
	if err != nil {
		return ReadResponse{}, err
	}

	if !req.SummaryOnly {
		return ReadResponse{Entries: entries}, nil
	}

	summaries := make([]Summary, len(entries))
	for i, e := range entries {
		summaries[i] = Summary{
			AgentID:   e.AgentID,
			Key:       e.Key,
			Version:   e.Version,
			SizeBytes: e.SizeBytes,
			Preview:   Summarize(e.Payload),
		}
	}
	return ReadResponse{Summaries: summaries}, nil
}

// List summarizes the run's context keys without payloads.
func (s *Service) List(ctx context.Context, runID uuid.UUID, agentID *uuid.UUID) ([]model.ContextListing, error) {
	if _, err := s.st.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.st.ListContexts(ctx, runID, agentID)
}

// mergePayloads combines a prior payload with new data for append mode.
func mergePayloads(prior, next json.RawMessage) json.RawMessage {
	var pv, nv any
	if err := json.Unmarshal(prior, &pv); err != nil {
		return next
	}
	if err := json.Unmarshal(next, &nv); err != nil {
		return prior
	}

	var merged any
	switch p := pv.(type) {
	case []any:
		if n, ok := nv.([]any); ok {
			merged = append(p, n...)
		} else {
			merged = append(p, nv)
		}
	case map[string]any:
		if n, ok := nv.(map[string]any); ok {
			for k, v := range n {
				p[k] = v
			}
			merged = p
		} else {
			merged = []any{pv, nv}
		}
	default:
		merged = []any{pv, nv}
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return next
	}
	return out
}

// Summarize produces a bounded projection of a JSON payload: strings are
// truncated, arrays are replaced by a count plus their first element, and
// objects below the top level are reduced to their key list.
func Summarize(payload json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return json.RawMessage(`null`)
	}
	out, err := json.Marshal(summarizeValue(v, 0))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return out
}

func summarizeValue(v any, depth int) any {
	switch t := v.(type) {
	case string:
		runes := []rune(t)
		if len(runes) > summaryStringLimit {
			return string(runes[:summaryStringLimit]) + "…"
		}
		return t
	case []any:
		summary := map[string]any{"count": len(t)}
		if len(t) > 0 {
			summary["first"] = summarizeValue(t[0], depth+1)
		}
		return summary
	case map[string]any:
		if depth >= 1 {
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return map[string]any{"keys": keys}
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = summarizeValue(val, depth+1)
		}
		return out
	default:
		return v
	}
}
