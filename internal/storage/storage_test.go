package storage_test

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/storage"
	"github.com/lacuna-ai/lacuna/internal/store"
	"github.com/lacuna-ai/lacuna/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage test: %v\n", err)
		return 1
	}
	defer db.Close()

	testDB = db
	return m.Run()
}

func requireDB(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping: postgres container not started in -short mode")
	}
	return testDB
}

func newRun(t *testing.T, ctx context.Context, db *storage.DB) model.Run {
	t.Helper()
	run := model.Run{
		ID:        uuid.New(),
		Query:     "test query",
		Status:    model.RunStatusInitializing,
		Config:    model.RunConfig{}.WithDefaults(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateRun(ctx, run))
	return run
}

func newAgent(t *testing.T, ctx context.Context, db *storage.DB, runID uuid.UUID, kind model.AgentKind) model.Agent {
	t.Helper()
	agent := model.Agent{
		ID:        uuid.New(),
		RunID:     runID,
		Kind:      kind,
		Status:    model.AgentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.CreateAgent(ctx, agent))
	return agent
}

func TestRunLifecycle(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Query, got.Query)
	assert.Equal(t, model.RunStatusInitializing, got.Status)
	assert.Equal(t, run.Config.MaxDepth, got.Config.MaxDepth)

	require.NoError(t, db.TransitionRun(ctx, run.ID, model.RunStatusInitializing, model.RunStatusExecuting, ""))
	got, err = db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusExecuting, got.Status)
	require.NotNil(t, got.StartedAt)

	// Wrong from-state is a conflict and leaves the row untouched.
	err = db.TransitionRun(ctx, run.ID, model.RunStatusInitializing, model.RunStatusExecuting, "")
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, db.TransitionRun(ctx, run.ID, model.RunStatusExecuting, model.RunStatusFailed, "backend unavailable"))
	got, err = db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "backend unavailable", got.ErrorMessage)
	require.NotNil(t, got.CompletedAt)
}

func TestGetRunNotFound(t *testing.T) {
	db := requireDB(t)
	_, err := db.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRunsByStatus(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)
	require.NoError(t, db.TransitionRun(ctx, run.ID, model.RunStatusInitializing, model.RunStatusExecuting, ""))

	runs, err := db.ListRunsByStatus(ctx, model.RunStatusExecuting)
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.ID == run.ID {
			found = true
		}
		assert.Equal(t, model.RunStatusExecuting, r.Status)
	}
	assert.True(t, found)
}

func TestAgentLifecycle(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)
	agent := newAgent(t, ctx, db, run.ID, model.AgentMicro)

	now := time.Now().UTC()
	agent.Status = model.AgentStatusCompleted
	agent.StartedAt = &now
	agent.CompletedAt = &now
	agent.ExecutionMs = 42
	agent.Metadata = map[string]any{"paper_id": "p1"}
	require.NoError(t, db.UpdateAgent(ctx, agent))

	got, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusCompleted, got.Status)
	assert.Equal(t, int64(42), got.ExecutionMs)
	assert.Equal(t, "p1", got.Metadata["paper_id"])

	newAgent(t, ctx, db, run.ID, model.AgentMeso)
	agents, err := db.ListAgents(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestContextVersioning(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)
	agent := newAgent(t, ctx, db, run.ID, model.AgentMicro)

	entry := model.ContextEntry{
		ID:        uuid.New(),
		RunID:     run.ID,
		AgentID:   agent.ID,
		Key:       "findings",
		Version:   1,
		Payload:   json.RawMessage(`{"themes":["one"]}`),
		SizeBytes: 18,
		Mode:      model.WriteOverwrite,
		CreatedAt: time.Now().UTC(),
	}
	v, err := db.InsertContext(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	entry.ID = uuid.New()
	entry.Version = 2
	entry.Payload = json.RawMessage(`{"themes":["one","two"]}`)
	v, err = db.InsertContext(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	latest, err := db.LatestContext(ctx, run.ID, agent.ID, "findings")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.JSONEq(t, `{"themes":["one","two"]}`, string(latest.Payload))

	v1, err := db.GetContextVersion(ctx, run.ID, agent.ID, "findings", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"themes":["one"]}`, string(v1.Payload))

	_, err = db.GetContextVersion(ctx, run.ID, agent.ID, "findings", 9)
	assert.ErrorIs(t, err, store.ErrVersionNotFound)

	_, err = db.LatestContext(ctx, run.ID, agent.ID, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLatestContextsAndListing(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)
	a1 := newAgent(t, ctx, db, run.ID, model.AgentMicro)
	a2 := newAgent(t, ctx, db, run.ID, model.AgentMicro)

	for i, agent := range []model.Agent{a1, a2} {
		entry := model.ContextEntry{
			ID:        uuid.New(),
			RunID:     run.ID,
			AgentID:   agent.ID,
			Key:       "findings",
			Version:   1,
			Payload:   json.RawMessage(fmt.Sprintf(`{"agent":%d}`, i)),
			SizeBytes: 11,
			Mode:      model.WriteOverwrite,
			CreatedAt: time.Now().UTC(),
		}
		_, err := db.InsertContext(ctx, entry)
		require.NoError(t, err)
	}

	// Run-wide filter sees one latest entry per agent.
	entries, err := db.LatestContexts(ctx, store.ContextFilter{RunID: run.ID, Key: "findings"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Agent filter narrows to one.
	entries, err = db.LatestContexts(ctx, store.ContextFilter{RunID: run.ID, AgentID: &a1.ID, Key: "findings"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a1.ID, entries[0].AgentID)

	listings, err := db.ListContexts(ctx, run.ID, nil)
	require.NoError(t, err)
	assert.Len(t, listings, 2)
	for _, l := range listings {
		assert.Equal(t, "findings", l.Key)
		assert.Equal(t, 1, l.VersionCount)
	}
}

func TestResultsFilter(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)
	agent := newAgent(t, ctx, db, run.ID, model.AgentMeta)

	for depth, final := range map[int]bool{0: false, 1: true} {
		require.NoError(t, db.InsertResult(ctx, model.Result{
			ID:         uuid.New(),
			RunID:      run.ID,
			AgentID:    agent.ID,
			Type:       model.ResultGapRanking,
			Depth:      depth,
			Content:    json.RawMessage(`{"gaps":[]}`),
			Confidence: 0.8,
			Citations:  []string{"p1"},
			IsFinal:    final,
			CreatedAt:  time.Now().UTC(),
		}))
	}

	results, err := db.ListResults(ctx, store.ResultFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = db.ListResults(ctx, store.ResultFilter{RunID: run.ID, Type: model.ResultGapRanking, FinalOnly: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsFinal)
	assert.Equal(t, 1, results[0].Depth)
	assert.Equal(t, []string{"p1"}, results[0].Citations)

	results, err = db.ListResults(ctx, store.ResultFilter{RunID: run.ID, Type: model.ResultClusterSummary})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLogsFilterAndPaging(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	run := newRun(t, ctx, db)

	for i := 0; i < 5; i++ {
		level := model.LogInfo
		if i == 0 {
			level = model.LogError
		}
		require.NoError(t, db.AppendLog(ctx, model.LogEntry{
			ID:        uuid.New(),
			RunID:     run.ID,
			Level:     level,
			Message:   fmt.Sprintf("event %d", i),
			Context:   map[string]any{"i": i},
			CreatedAt: time.Now().UTC(),
		}))
	}

	logs, total, err := db.ListLogs(ctx, store.LogFilter{RunID: run.ID, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, logs, 5)

	logs, total, err = db.ListLogs(ctx, store.LogFilter{RunID: run.ID, Level: model.LogError, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "event 0", logs[0].Message)

	logs, total, err = db.ListLogs(ctx, store.LogFilter{RunID: run.ID, Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, logs, 2)
}

func TestPing(t *testing.T) {
	db := requireDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}
