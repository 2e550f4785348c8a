package lacuna

import (
	"log/slog"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string
	store       store.Store
	backend     backend.Backend
}

// WithPort overrides the TCP port from config (LACUNA_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStore replaces the auto-selected store (Postgres or in-memory).
// Mainly useful for embedding the server in tests.
func WithStore(st store.Store) Option {
	return func(o *resolvedOptions) { o.store = st }
}

// WithBackend replaces the auto-selected agent backend.
func WithBackend(b backend.Backend) Option {
	return func(o *resolvedOptions) { o.backend = b }
}
