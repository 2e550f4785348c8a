package server

import (
	"net/http"
	"strconv"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// HandleCreateRun handles POST /v1/runs.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	run, err := h.orch.Start(r.Context(), req.OwnerID, req.Query, req.Config)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, run)
}

// HandleExecuteRun handles POST /v1/runs/{run_id}/execute. Execution
// continues in the background; the response only acknowledges launch.
func (h *Handlers) HandleExecuteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	var req model.ExecuteRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.orch.Execute(r.Context(), runID, req.Papers, req.AgentBackend); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": model.RunStatusExecuting,
	})
}

// HandleRunStatus handles GET /v1/runs/{run_id}/status.
func (h *Handlers) HandleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	progress, err := h.orch.Status(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, progress)
}

// HandleRunResults handles GET /v1/runs/{run_id}/results. Pre-finalization
// queries return an empty list, not 404.
func (h *Handlers) HandleRunResults(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	if _, err := h.st.GetRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	filter := store.ResultFilter{
		RunID:     runID,
		Type:      model.ResultType(r.URL.Query().Get("type")),
		FinalOnly: r.URL.Query().Get("final_only") == "true",
	}
	results, err := h.st.ListResults(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// HandleRunAgents handles GET /v1/runs/{run_id}/agents.
func (h *Handlers) HandleRunAgents(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	if _, err := h.st.GetRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	agents, err := h.st.ListAgents(r.Context(), runID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

// defaultLogLimit bounds a log page when the client does not set one.
const defaultLogLimit = 100

// HandleRunLogs handles GET /v1/runs/{run_id}/logs.
func (h *Handlers) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	if _, err := h.st.GetRun(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	level := model.LogLevel(q.Get("level"))
	if level != "" && !level.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid log level")
		return
	}
	limit := defaultLogLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid limit")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid offset")
			return
		}
		offset = n
	}

	logs, total, err := h.st.ListLogs(r.Context(), store.LogFilter{
		RunID: runID, Level: level, Limit: limit, Offset: offset,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.LogEntry{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"logs": logs, "total": total})
}

// HandleCancelRun handles POST /v1/runs/{run_id}/cancel.
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}
	if err := h.orch.Cancel(r.Context(), runID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id": runID,
		"status": model.RunStatusCancelled,
	})
}
