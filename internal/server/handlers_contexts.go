package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// HandleWriteContext handles POST /v1/contexts/write.
func (h *Handlers) HandleWriteContext(w http.ResponseWriter, r *http.Request) {
	var req model.WriteContextRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.RunID == uuid.Nil || req.AgentID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id and agent_id are required")
		return
	}

	resp, err := h.ctxs.Write(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleReadContext handles POST /v1/contexts/read.
func (h *Handlers) HandleReadContext(w http.ResponseWriter, r *http.Request) {
	var req model.ReadContextRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.RunID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return
	}

	resp, err := h.ctxs.Read(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleListContexts handles GET /v1/contexts.
func (h *Handlers) HandleListContexts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runID, err := uuid.Parse(q.Get("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id query parameter is required")
		return
	}
	var agentID *uuid.UUID
	if v := q.Get("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid agent_id")
			return
		}
		agentID = &id
	}

	listings, err := h.ctxs.List(r.Context(), runID, agentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if listings == nil {
		listings = []model.ContextListing{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"contexts": listings, "count": len(listings)})
}
