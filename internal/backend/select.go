package backend

import (
	"fmt"
	"log/slog"
)

// Config carries the provider settings Select resolves against.
type Config struct {
	OpenAIKey     string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string
}

// Select resolves a backend by name: "heuristic", "ollama", "openai", or
// "auto". Auto prefers OpenAI when a key is configured, then Ollama when
// a base URL is configured, and falls back to the heuristic backend.
// An empty name means auto.
func Select(name string, cfg Config, logger *slog.Logger) (Backend, error) {
	switch name {
	case "", "auto":
		if cfg.OpenAIKey != "" {
			logger.Info("backend selected", "backend", "openai", "model", cfg.OpenAIModel)
			return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel), nil
		}
		if cfg.OllamaBaseURL != "" {
			logger.Info("backend selected", "backend", "ollama", "model", cfg.OllamaModel)
			return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel), nil
		}
		logger.Info("backend selected", "backend", "heuristic")
		return NewHeuristic(), nil
	case "heuristic":
		return NewHeuristic(), nil
	case "ollama":
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("backend: openai selected but no API key configured")
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", name)
	}
}
