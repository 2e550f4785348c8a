package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lacuna-ai/lacuna"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("LACUNA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if os.Getenv("LACUNA_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := lacuna.New(
		lacuna.WithVersion(version),
		lacuna.WithLogger(logger),
	)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
