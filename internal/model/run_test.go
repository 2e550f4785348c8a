package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConfigWithDefaults(t *testing.T) {
	cfg := RunConfig{}.WithDefaults()

	assert.Equal(t, DefaultMaxDepth, cfg.MaxDepth)
	assert.Equal(t, DefaultMaxAgents, cfg.MaxAgents)
	assert.Equal(t, DefaultRunTimeout, cfg.Timeout)
	assert.Equal(t, DefaultAgentTimeout, cfg.AgentTimeout)
	assert.Equal(t, FocusAll, cfg.FocusStrategy)

	// An explicit zero convergence threshold survives defaulting: it means
	// "terminate after one round", not "use the default".
	assert.Equal(t, 0.0, cfg.ConvergenceThreshold)
}

func TestRunConfigWithDefaultsClampsBounds(t *testing.T) {
	cfg := RunConfig{
		MaxDepth:  100,
		MaxAgents: 10_000,
		Timeout:   -time.Second,
	}.WithDefaults()

	assert.Equal(t, MaxDepthLimit, cfg.MaxDepth)
	assert.Equal(t, MaxAgentsLimit, cfg.MaxAgents)
	assert.Equal(t, DefaultRunTimeout, cfg.Timeout)
}

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RunConfig
		wantErr string
	}{
		{name: "zero value ok", cfg: RunConfig{}},
		{name: "unreachable convergence threshold ok", cfg: RunConfig{ConvergenceThreshold: 1.01}},
		{name: "gap_linked focus ok", cfg: RunConfig{FocusStrategy: FocusGapLinked}},
		{name: "negative convergence threshold", cfg: RunConfig{ConvergenceThreshold: -0.1}, wantErr: "convergence_threshold"},
		{name: "confidence out of range", cfg: RunConfig{ConfidenceThreshold: 1.5}, wantErr: "confidence_threshold"},
		{name: "unknown focus strategy", cfg: RunConfig{FocusStrategy: "random"}, wantErr: "focus_strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusInitializing.Terminal())
	assert.False(t, RunStatusExecuting.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
}

func TestAgentStatusTerminal(t *testing.T) {
	assert.False(t, AgentStatusPending.Terminal())
	assert.False(t, AgentStatusActive.Terminal())
	assert.True(t, AgentStatusCompleted.Terminal())
	assert.True(t, AgentStatusFailed.Terminal())
	assert.True(t, AgentStatusSkipped.Terminal())
}
