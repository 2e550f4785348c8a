package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/engine"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctxs := contexts.New(st, logger)
	orch := engine.NewOrchestrator(st, ctxs, backend.NewHeuristic(), backend.Config{}, logger, "test")
	t.Cleanup(orch.Close)

	srv := New(ServerConfig{
		Orchestrator:        orch,
		ContextSvc:          ctxs,
		Store:               st,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 8 << 20,
	})
	return srv, st
}

// doJSON sends a request through the full middleware chain.
func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// envelope decodes the standard response envelope.
type envelope struct {
	Data json.RawMessage    `json:"data"`
	Meta model.ResponseMeta `json:"meta"`
}

type errEnvelope struct {
	Error model.ErrorDetail  `json:"error"`
	Meta  model.ResponseMeta `json:"meta"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) model.ResponseMeta {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if target != nil {
		require.NoError(t, json.Unmarshal(env.Data, target))
	}
	return env.Meta
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func createRun(t *testing.T, srv *Server, req model.CreateRunRequest) model.Run {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run model.Run
	decodeData(t, rec, &run)
	return run
}

func apiPapers(n int) []model.Paper {
	papers := make([]model.Paper, n)
	for i := range papers {
		papers[i] = model.Paper{
			ID:    fmt.Sprintf("p%d", i+1),
			Title: fmt.Sprintf("Study of topic %d", i+1),
			Text: fmt.Sprintf("We present an analysis of topic %d in shared systems. "+
				"A limitation of this study is its narrow scope.", i+1),
		}
	}
	return papers
}

func waitCompleted(t *testing.T, srv *Server, runID uuid.UUID) model.Progress {
	t.Helper()
	var progress model.Progress
	require.Eventually(t, func() bool {
		rec := doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID.String()+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var p model.Progress
		var env envelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			return false
		}
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return false
		}
		progress = p
		return p.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return progress
}

func TestCreateRun(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", model.CreateRunRequest{Query: "what is underexplored"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var run model.Run
	meta := decodeData(t, rec, &run)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, model.RunStatusInitializing, run.Status)
	assert.Equal(t, model.DefaultMaxDepth, run.Config.MaxDepth)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", model.CreateRunRequest{Query: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	cfg := model.RunConfig{MaxDepth: 1}
	run := createRun(t, srv, model.CreateRunRequest{Query: "gaps in shared systems", Config: &cfg})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs/"+run.ID.String()+"/execute",
		model.ExecuteRunRequest{Papers: apiPapers(3)})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	progress := waitCompleted(t, srv, run.ID)
	assert.Equal(t, model.RunStatusCompleted, progress.Status)
	assert.Equal(t, 100.0, progress.PercentComplete)
	assert.Equal(t, 5, progress.TotalAgents)

	// Results: full listing and the final-only view.
	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		Results []model.Result `json:"results"`
		Count   int            `json:"count"`
	}
	decodeData(t, rec, &results)
	assert.NotEmpty(t, results.Results)
	assert.Equal(t, len(results.Results), results.Count)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/results?final_only=true&type=gap_ranking", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &results)
	require.Len(t, results.Results, 1)
	assert.True(t, results.Results[0].IsFinal)

	var ranking model.GapRanking
	require.NoError(t, json.Unmarshal(results.Results[0].Content, &ranking))
	assert.NotEmpty(t, ranking.Gaps)

	// Agents.
	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents struct {
		Agents []model.Agent `json:"agents"`
	}
	decodeData(t, rec, &agents)
	assert.Len(t, agents.Agents, 5)

	// Logs with a level filter.
	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/logs?level=info&limit=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Logs  []model.LogEntry `json:"logs"`
		Total int              `json:"total"`
	}
	decodeData(t, rec, &logs)
	assert.NotEmpty(t, logs.Logs)

	// A completed run is not executable again.
	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+run.ID.String()+"/execute",
		model.ExecuteRunRequest{Papers: apiPapers(1)})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, decodeError(t, rec).Code)
}

func TestResultsBeforeExecutionIsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv, model.CreateRunRequest{Query: "q"})

	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		Results []model.Result `json:"results"`
	}
	decodeData(t, rec, &results)
	assert.Empty(t, results.Results)
	assert.NotNil(t, results.Results)
}

func TestUnknownRunIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{
		"/v1/runs/" + uuid.NewString() + "/status",
		"/v1/runs/" + uuid.NewString() + "/results",
		"/v1/runs/" + uuid.NewString() + "/agents",
		"/v1/runs/" + uuid.NewString() + "/logs",
	} {
		rec := doJSON(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Code, path)
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRunOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv, model.CreateRunRequest{Query: "q"})

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs/"+run.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+run.ID.String()+"/status", nil)
	var progress model.Progress
	decodeData(t, rec, &progress)
	assert.Equal(t, model.RunStatusCancelled, progress.Status)
}

func TestContextEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	run := createRun(t, srv, model.CreateRunRequest{Query: "q"})
	agentID := uuid.New()

	// First write creates version 1.
	rec := doJSON(t, srv, http.MethodPost, "/v1/contexts/write", model.WriteContextRequest{
		RunID: run.ID, AgentID: agentID, Key: "notes",
		Data: json.RawMessage(`["observation one"]`), Mode: model.WriteAppend,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wr model.WriteContextResponse
	decodeData(t, rec, &wr)
	assert.Equal(t, 1, wr.Version)

	rec = doJSON(t, srv, http.MethodPost, "/v1/contexts/write", model.WriteContextRequest{
		RunID: run.ID, AgentID: agentID, Key: "notes",
		Data: json.RawMessage(`["observation two"]`), Mode: model.WriteAppend,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeData(t, rec, &wr)
	assert.Equal(t, 2, wr.Version)

	// Latest read returns the merged payload.
	rec = doJSON(t, srv, http.MethodPost, "/v1/contexts/read", model.ReadContextRequest{
		RunID: run.ID, AgentID: &agentID, Key: "notes",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var read contexts.ReadResponse
	decodeData(t, rec, &read)
	require.Len(t, read.Entries, 1)
	assert.JSONEq(t, `["observation one","observation two"]`, string(read.Entries[0].Payload))

	// Historical version stays intact.
	v1 := 1
	rec = doJSON(t, srv, http.MethodPost, "/v1/contexts/read", model.ReadContextRequest{
		RunID: run.ID, AgentID: &agentID, Key: "notes", Version: &v1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &read)
	require.Len(t, read.Entries, 1)
	assert.JSONEq(t, `["observation one"]`, string(read.Entries[0].Payload))

	// Missing version is 404.
	v9 := 9
	rec = doJSON(t, srv, http.MethodPost, "/v1/contexts/read", model.ReadContextRequest{
		RunID: run.ID, AgentID: &agentID, Key: "notes", Version: &v9,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Invalid mode is 400.
	rec = doJSON(t, srv, http.MethodPost, "/v1/contexts/write", model.WriteContextRequest{
		RunID: run.ID, AgentID: agentID, Key: "notes",
		Data: json.RawMessage(`{}`), Mode: "replace",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Listing.
	rec = doJSON(t, srv, http.MethodGet, "/v1/contexts?run_id="+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Contexts []model.ContextListing `json:"contexts"`
		Count    int                    `json:"count"`
	}
	decodeData(t, rec, &listing)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "notes", listing.Contexts[0].Key)
	assert.Equal(t, 2, listing.Contexts[0].VersionCount)
}

func TestHealthAndQueueStats(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health model.Health
	decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)

	rec = doJSON(t, srv, http.MethodGet, "/queue-stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.QueueStats
	decodeData(t, rec, &stats)
	assert.Zero(t, stats.InFlight)
}
