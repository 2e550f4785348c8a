package contexts

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/store"
)

func newService(t *testing.T) (*Service, uuid.UUID) {
	t.Helper()
	st := store.NewMemory()
	runID := uuid.New()
	require.NoError(t, st.CreateRun(context.Background(), model.Run{
		ID:        runID,
		Query:     "q",
		Status:    model.RunStatusInitializing,
		CreatedAt: time.Now().UTC(),
	}))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(st, logger), runID
}

func TestWriteOverwriteCreatesVersions(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentID := uuid.New()

	resp, err := svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "findings",
		Data: json.RawMessage(`{"themes":["a"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Version)

	resp, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "findings",
		Data: json.RawMessage(`{"themes":["b"]}`), Mode: model.WriteOverwrite,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Version)

	// Latest reflects the overwrite, version 1 is untouched.
	read, err := svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentID, Key: "findings"})
	require.NoError(t, err)
	require.Len(t, read.Entries, 1)
	assert.JSONEq(t, `{"themes":["b"]}`, string(read.Entries[0].Payload))

	v1 := 1
	read, err = svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentID, Key: "findings", Version: &v1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"themes":["a"]}`, string(read.Entries[0].Payload))
}

func TestAppendMergesPayloads(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentID := uuid.New()

	// First append with no prior version falls back to overwrite semantics.
	resp, err := svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "findings",
		Data: json.RawMessage(`["first"]`), Mode: model.WriteAppend,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Version)

	resp, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "findings",
		Data: json.RawMessage(`["second"]`), Mode: model.WriteAppend,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Version)

	// Version 1 returns only the first payload.
	v1 := 1
	read, err := svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentID, Key: "findings", Version: &v1})
	require.NoError(t, err)
	assert.JSONEq(t, `["first"]`, string(read.Entries[0].Payload))

	// Latest returns the merge of both writes.
	read, err = svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentID, Key: "findings"})
	require.NoError(t, err)
	assert.JSONEq(t, `["first","second"]`, string(read.Entries[0].Payload))
}

func TestAppendMergesObjects(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentID := uuid.New()

	_, err := svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "state",
		Data: json.RawMessage(`{"a":1,"b":1}`),
	})
	require.NoError(t, err)

	_, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "state",
		Data: json.RawMessage(`{"b":2,"c":3}`), Mode: model.WriteAppend,
	})
	require.NoError(t, err)

	read, err := svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentID, Key: "state"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2,"c":3}`, string(read.Entries[0].Payload))
}

func TestWriteRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentID := uuid.New()

	_, err := svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "k",
		Data: json.RawMessage(`{}`), Mode: "replace",
	})
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID,
		Data: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "k",
		Data: json.RawMessage(`{not json`),
	})
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Unknown run.
	_, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: uuid.New(), AgentID: agentID, Key: "k",
		Data: json.RawMessage(`{}`),
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadAggregatesAcrossRun(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentA := uuid.New()
	agentB := uuid.New()

	for _, w := range []struct {
		agent uuid.UUID
		key   string
	}{
		{agentA, "findings"},
		{agentB, "findings"},
		{agentB, "themes"},
	} {
		_, err := svc.Write(ctx, model.WriteContextRequest{
			RunID: runID, AgentID: w.agent, Key: w.key,
			Data: json.RawMessage(`{"x":1}`),
		})
		require.NoError(t, err)
	}

	read, err := svc.Read(ctx, model.ReadContextRequest{RunID: runID})
	require.NoError(t, err)
	assert.Len(t, read.Entries, 3)

	read, err = svc.Read(ctx, model.ReadContextRequest{RunID: runID, AgentID: &agentB})
	require.NoError(t, err)
	assert.Len(t, read.Entries, 2)

	// Version without agent/key is invalid.
	v := 1
	_, err = svc.Read(ctx, model.ReadContextRequest{RunID: runID, Version: &v})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSummarizeBoundsPayload(t *testing.T) {
	ctx := context.Background()
	svc, runID := newService(t)
	agentID := uuid.New()

	long := make([]byte, 0, 4096)
	for i := 0; i < 2048; i++ {
		long = append(long, 'x')
	}
	payload, err := json.Marshal(map[string]any{
		"text":  string(long),
		"items": []any{"a", "b", "c"},
		"inner": map[string]any{"k1": 1, "k2": 2},
	})
	require.NoError(t, err)

	_, err = svc.Write(ctx, model.WriteContextRequest{
		RunID: runID, AgentID: agentID, Key: "big", Data: payload,
	})
	require.NoError(t, err)

	read, err := svc.Read(ctx, model.ReadContextRequest{
		RunID: runID, AgentID: &agentID, Key: "big", SummaryOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, read.Summaries, 1)

	sum := read.Summaries[0]
	assert.Equal(t, len(payload), sum.SizeBytes)
	assert.Less(t, len(sum.Preview), len(payload), "summary must be smaller than payload")

	var preview map[string]any
	require.NoError(t, json.Unmarshal(sum.Preview, &preview))
	assert.Len(t, preview["text"].(string), summaryStringLimit+len("…"))
	assert.Equal(t, float64(3), preview["items"].(map[string]any)["count"])
	assert.Equal(t, []any{"k1", "k2"}, preview["inner"].(map[string]any)["keys"])
}
