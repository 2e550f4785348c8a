package config

import (
	"testing"
	"time"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	if v := envStr("TEST_STR", "fallback"); v != "value" {
		t.Fatalf("expected value, got %s", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for invalid value, got %d", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for invalid value, got %s", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.AgentBackend != "auto" {
		t.Fatalf("expected default backend auto, got %s", cfg.AgentBackend)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("expected default log format json, got %s", cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LACUNA_PORT", "9090")
	t.Setenv("LACUNA_AGENT_BACKEND", "heuristic")
	t.Setenv("LACUNA_READ_TIMEOUT", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.AgentBackend != "heuristic" {
		t.Fatalf("expected backend heuristic, got %s", cfg.AgentBackend)
	}
	if cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("expected read timeout 10s, got %s", cfg.ReadTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := cfg
	bad.Port = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	bad = cfg
	bad.MaxRequestBodyBytes = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for zero body limit")
	}

	bad = cfg
	bad.LogFormat = "yaml"
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("LACUNA_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
