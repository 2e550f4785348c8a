// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty DatabaseURL runs the engine on the
	// in-memory store.
	DatabaseURL string

	// Agent backend settings.
	AgentBackend string // "auto", "openai", "ollama", or "heuristic"
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	LogFormat           string // "json" or "text"
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("LACUNA_PORT", 8080),
		ReadTimeout:         envDuration("LACUNA_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("LACUNA_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		AgentBackend:        envStr("LACUNA_AGENT_BACKEND", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIModel:         envStr("LACUNA_OPENAI_MODEL", "gpt-4o-mini"),
		OllamaURL:           envStr("OLLAMA_URL", ""),
		OllamaModel:         envStr("OLLAMA_MODEL", "llama3.1"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "lacuna"),
		LogLevel:            envStr("LACUNA_LOG_LEVEL", "info"),
		LogFormat:           envStr("LACUNA_LOG_FORMAT", "json"),
		MaxRequestBodyBytes: int64(envInt("LACUNA_MAX_REQUEST_BODY_BYTES", 8*1024*1024)), // 8 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: LACUNA_PORT must be in 1..65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: LACUNA_MAX_REQUEST_BODY_BYTES must be positive")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: LACUNA_LOG_FORMAT must be json or text")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
