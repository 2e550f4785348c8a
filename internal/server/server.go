package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/lacuna-ai/lacuna/internal/engine"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// Server is the Lacuna HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. MCPServer is optional (nil = MCP surface disabled).
type ServerConfig struct {
	Orchestrator *engine.Orchestrator
	ContextSvc   *contexts.Service
	Store        store.Store
	Logger       *slog.Logger

	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Orchestrator:        cfg.Orchestrator,
		ContextSvc:          cfg.ContextSvc,
		Store:               cfg.Store,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Run lifecycle.
	mux.HandleFunc("POST /v1/runs", h.HandleCreateRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/execute", h.HandleExecuteRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/status", h.HandleRunStatus)
	mux.HandleFunc("GET /v1/runs/{run_id}/results", h.HandleRunResults)
	mux.HandleFunc("GET /v1/runs/{run_id}/agents", h.HandleRunAgents)
	mux.HandleFunc("GET /v1/runs/{run_id}/logs", h.HandleRunLogs)
	mux.HandleFunc("POST /v1/runs/{run_id}/cancel", h.HandleCancelRun)

	// Context store.
	mux.HandleFunc("POST /v1/contexts/write", h.HandleWriteContext)
	mux.HandleFunc("POST /v1/contexts/read", h.HandleReadContext)
	mux.HandleFunc("GET /v1/contexts", h.HandleListContexts)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Operational endpoints.
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /queue-stats", h.HandleQueueStats)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
