package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/engine"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	orch                *engine.Orchestrator
	ctxs                *contexts.Service
	st                  store.Store
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Orchestrator        *engine.Orchestrator
	ContextSvc          *contexts.Service
	Store               store.Store
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		orch:                d.Orchestrator,
		ctxs:                d.ContextSvc,
		st:                  d.Store,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// handleDecodeError maps a request body decode failure to a 400.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
}

// handleServiceError maps engine, store, and context-service errors to
// HTTP responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrVersionNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, engine.ErrValidation),
		errors.Is(err, contexts.ErrInvalidRequest),
		errors.Is(err, contexts.ErrInvalidMode):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
	}
}

// pathRunID parses the {run_id} path segment.
func pathRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid run_id")
		return uuid.UUID{}, false
	}
	return id, true
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.orch.HealthCheck(r.Context())
	health.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, health)
}

// HandleQueueStats handles GET /queue-stats.
func (h *Handlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.orch.QueueStats())
}
