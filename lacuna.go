// Package lacuna is the public API for embedding the Lacuna research
// orchestration server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := lacuna.New(
//	    lacuna.WithVersion(version),
//	    lacuna.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: lacuna (root) imports
// internal/*, but internal/* never imports lacuna (root).
package lacuna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/config"
	"github.com/lacuna-ai/lacuna/internal/engine"
	"github.com/lacuna-ai/lacuna/internal/mcp"
	"github.com/lacuna-ai/lacuna/internal/server"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/storage"
	"github.com/lacuna-ai/lacuna/internal/store"
	"github.com/lacuna-ai/lacuna/internal/telemetry"
	"github.com/lacuna-ai/lacuna/migrations"
)

// App is the Lacuna server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when running on the in-memory store
	st           store.Store
	orch         *engine.Orchestrator
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Lacuna server. It connects to the database (or falls
// back to the in-memory store when DATABASE_URL is unset), runs migrations,
// wires all subsystems, and returns a ready-to-run App. It does NOT start
// any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("lacuna starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Pick the backing store: Postgres when configured, in-memory otherwise.
	var (
		db *storage.DB
		st store.Store
	)
	if o.store != nil {
		st = o.store
		logger.Info("store: externally provided")
	} else if cfg.DatabaseURL != "" {
		db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		db.RegisterPoolMetrics()
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		st = db
		logger.Info("store: postgres")
	} else {
		st = store.NewMemory()
		logger.Info("store: in-memory (no DATABASE_URL; state is lost on restart)")
	}

	// Agent backend. The orchestrator keeps the config so per-run
	// backend overrides can construct their own.
	backendCfg := backend.Config{
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OllamaBaseURL: cfg.OllamaURL,
		OllamaModel:   cfg.OllamaModel,
	}
	var bkd backend.Backend
	if o.backend != nil {
		bkd = o.backend
	} else {
		bkd, err = backend.Select(cfg.AgentBackend, backendCfg, logger)
		if err != nil {
			if db != nil {
				db.Close()
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("backend: %w", err)
		}
	}
	logger.Info("agent backend selected", "backend", bkd.Name())

	ctxSvc := contexts.New(st, logger)
	orch := engine.NewOrchestrator(st, ctxSvc, bkd, backendCfg, logger, version)

	mcpSrv := mcp.New(orch, ctxSvc, st, logger)

	srv := server.New(server.ServerConfig{
		Orchestrator:        orch,
		ContextSvc:          ctxSvc,
		Store:               st,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		st:           st,
		orch:         orch,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On cancellation it performs a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully stops the HTTP server, the orchestrator watchdog,
// the database pool, and the OTEL exporters, in that order.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("lacuna shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var firstErr error
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("server shutdown: %w", err)
	}
	a.orch.Close()
	if a.db != nil {
		a.db.Close()
	}
	if err := a.otelShutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("telemetry shutdown: %w", err)
	}
	return firstErr
}
