package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// Memory is an in-process Store backed by mutex-guarded maps.
// It is the default for tests and single-process deployments.
type Memory struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]model.Run
	agents   map[uuid.UUID]model.Agent
	contexts map[uuid.UUID][]model.ContextEntry // keyed by run, insertion order
	results  map[uuid.UUID][]model.Result
	logs     map[uuid.UUID][]model.LogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[uuid.UUID]model.Run),
		agents:   make(map[uuid.UUID]model.Agent),
		contexts: make(map[uuid.UUID][]model.ContextEntry),
		results:  make(map[uuid.UUID][]model.Result),
		logs:     make(map[uuid.UUID][]model.LogEntry),
	}
}

// CreateRun stores a new run. Fails with ErrConflict on duplicate IDs.
func (m *Memory) CreateRun(_ context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrConflict
	}
	m.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID.
func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return run, nil
}

// TransitionRun atomically moves a run between statuses.
func (m *Memory) TransitionRun(_ context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status != from {
		return ErrConflict
	}
	now := time.Now().UTC()
	run.Status = to
	if errorMessage != "" {
		run.ErrorMessage = errorMessage
	}
	if to == model.RunStatusExecuting && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if to.Terminal() {
		run.CompletedAt = &now
	}
	m.runs[id] = run
	return nil
}

// ListRunsByStatus returns runs in a given status, oldest first.
func (m *Memory) ListRunsByStatus(_ context.Context, status model.RunStatus) ([]model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []model.Run
	for _, r := range m.runs {
		if r.Status == status {
			runs = append(runs, r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

// CreateAgent stores a newly spawned agent.
func (m *Memory) CreateAgent(_ context.Context, agent model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return ErrConflict
	}
	m.agents[agent.ID] = agent
	return nil
}

// UpdateAgent replaces an agent record. Terminal agents are immutable.
func (m *Memory) UpdateAgent(_ context.Context, agent model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Status.Terminal() {
		return ErrConflict
	}
	m.agents[agent.ID] = agent
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *Memory) GetAgent(_ context.Context, id uuid.UUID) (model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return model.Agent{}, ErrNotFound
	}
	return agent, nil
}

// ListAgents returns all agents for a run ordered by creation time, then
// depth, for a stable listing.
func (m *Memory) ListAgents(_ context.Context, runID uuid.UUID) ([]model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var agents []model.Agent
	for _, a := range m.agents {
		if a.RunID == runID {
			agents = append(agents, a)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Depth != agents[j].Depth {
			return agents[i].Depth < agents[j].Depth
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// InsertContext appends a new immutable version for the entry's key.
func (m *Memory) InsertContext(_ context.Context, entry model.ContextEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := 1
	for _, e := range m.contexts[entry.RunID] {
		if e.AgentID == entry.AgentID && e.Key == entry.Key && e.Version >= version {
			version = e.Version + 1
		}
	}
	entry.Version = version
	m.contexts[entry.RunID] = append(m.contexts[entry.RunID], entry)
	return version, nil
}

// LatestContext returns the highest version of a key.
func (m *Memory) LatestContext(_ context.Context, runID, agentID uuid.UUID, key string) (model.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.ContextEntry
	for i := range m.contexts[runID] {
		e := &m.contexts[runID][i]
		if e.AgentID == agentID && e.Key == key && (latest == nil || e.Version > latest.Version) {
			latest = e
		}
	}
	if latest == nil {
		return model.ContextEntry{}, ErrNotFound
	}
	return *latest, nil
}

// GetContextVersion returns one exact version snapshot.
func (m *Memory) GetContextVersion(_ context.Context, runID, agentID uuid.UUID, key string, version int) (model.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := false
	for i := range m.contexts[runID] {
		e := m.contexts[runID][i]
		if e.AgentID == agentID && e.Key == key {
			found = true
			if e.Version == version {
				return e, nil
			}
		}
	}
	if found {
		return model.ContextEntry{}, ErrVersionNotFound
	}
	return model.ContextEntry{}, ErrNotFound
}

// LatestContexts returns the latest version of each key matching the filter.
func (m *Memory) LatestContexts(_ context.Context, filter ContextFilter) ([]model.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ck struct {
		agent uuid.UUID
		key   string
	}
	latest := make(map[ck]model.ContextEntry)
	for _, e := range m.contexts[filter.RunID] {
		if filter.AgentID != nil && e.AgentID != *filter.AgentID {
			continue
		}
		if filter.Key != "" && e.Key != filter.Key {
			continue
		}
		k := ck{agent: e.AgentID, key: e.Key}
		if cur, ok := latest[k]; !ok || e.Version > cur.Version {
			latest[k] = e
		}
	}

	entries := make([]model.ContextEntry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AgentID != entries[j].AgentID {
			return entries[i].AgentID.String() < entries[j].AgentID.String()
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

// ListContexts summarizes keys without payloads.
func (m *Memory) ListContexts(_ context.Context, runID uuid.UUID, agentID *uuid.UUID) ([]model.ContextListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ck struct {
		agent uuid.UUID
		key   string
	}
	listings := make(map[ck]model.ContextListing)
	for _, e := range m.contexts[runID] {
		if agentID != nil && e.AgentID != *agentID {
			continue
		}
		k := ck{agent: e.AgentID, key: e.Key}
		l := listings[k]
		l.AgentID = e.AgentID
		l.Key = e.Key
		l.VersionCount++
		if e.CreatedAt.After(l.LastModified) {
			l.LastModified = e.CreatedAt
			l.SizeBytes = e.SizeBytes
		}
		listings[k] = l
	}

	out := make([]model.ContextListing, 0, len(listings))
	for _, l := range listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID.String() < out[j].AgentID.String()
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// InsertResult stores one agent output.
func (m *Memory) InsertResult(_ context.Context, result model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.RunID] = append(m.results[result.RunID], result)
	return nil
}

// ListResults returns results matching the filter in insertion order.
func (m *Memory) ListResults(_ context.Context, filter ResultFilter) ([]model.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Result
	for _, r := range m.results[filter.RunID] {
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if filter.FinalOnly && !r.IsFinal {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// AppendLog appends one log entry. The log is never mutated or deleted.
func (m *Memory) AppendLog(_ context.Context, entry model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[entry.RunID] = append(m.logs[entry.RunID], entry)
	return nil
}

// ListLogs returns log entries matching the filter plus the total count
// before limit/offset.
func (m *Memory) ListLogs(_ context.Context, filter LogFilter) ([]model.LogEntry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []model.LogEntry
	for _, e := range m.logs[filter.RunID] {
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Ping always succeeds for the in-memory store.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}
