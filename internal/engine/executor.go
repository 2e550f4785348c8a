package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// Context keys agents publish under.
const (
	ContextKeyFindings   = "findings"
	ContextKeyClusters   = "clusters"
	ContextKeyGapRanking = "gap_ranking"
)

// retryBaseDelay is the first retry backoff; it doubles per attempt.
const retryBaseDelay = 500 * time.Millisecond

// executor runs single agents: registry transitions, per-attempt
// timeout, retry with backoff, context writes, and result persistence.
// Executors never touch scheduler state; outcomes flow back over the
// round's channel.
type executor struct {
	st      store.Store
	ctxs    *contexts.Service
	backend backend.Backend
	logger  *slog.Logger
	stats   *queueStats
}

// microOutcome is one micro agent's report to the round barrier.
type microOutcome struct {
	agent    model.Agent
	paper    model.Paper
	status   model.AgentStatus
	findings model.PaperFindings
	err      error
}

// spawnAgent registers a pending agent for the run.
func (e *executor) spawnAgent(ctx context.Context, runID uuid.UUID, kind model.AgentKind, depth int, metadata map[string]any) (model.Agent, error) {
	agent := model.Agent{
		ID:        uuid.New(),
		RunID:     runID,
		Kind:      kind,
		Depth:     depth,
		Status:    model.AgentStatusPending,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.st.CreateAgent(ctx, agent); err != nil {
		return model.Agent{}, fmt.Errorf("engine: spawn %s agent: %w", kind, err)
	}
	return agent, nil
}

func (e *executor) beginAgent(ctx context.Context, agent *model.Agent) error {
	now := time.Now().UTC()
	agent.Status = model.AgentStatusActive
	agent.StartedAt = &now
	return e.st.UpdateAgent(ctx, *agent)
}

func (e *executor) finishAgent(ctx context.Context, agent *model.Agent, status model.AgentStatus, retries int, errMsg string) {
	now := time.Now().UTC()
	agent.Status = status
	agent.Retries = retries
	agent.Error = errMsg
	agent.CompletedAt = &now
	if agent.StartedAt != nil {
		agent.ExecutionMs = now.Sub(*agent.StartedAt).Milliseconds()
	}
	if err := e.st.UpdateAgent(ctx, *agent); err != nil {
		e.logger.Error("agent status update failed",
			"agent_id", agent.ID, "status", status, "error", err)
	}
}

// appendLog writes to the run's persistent log. Log failures are
// reported but never fail the operation that produced them.
func (e *executor) appendLog(ctx context.Context, runID uuid.UUID, agentID *uuid.UUID, level model.LogLevel, msg string, kv map[string]any) {
	err := e.st.AppendLog(ctx, model.LogEntry{
		ID:        uuid.New(),
		RunID:     runID,
		AgentID:   agentID,
		Level:     level,
		Message:   msg,
		Context:   kv,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Error("run log append failed", "run_id", runID, "error", err)
	}
}

// withRetry runs fn under the per-agent timeout, retrying transient
// failures with exponential backoff up to cfg.MaxRetries times. Returns
// the retry count actually used.
func (e *executor) withRetry(ctx context.Context, cfg model.RunConfig, fn func(context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			e.stats.retries.Add(1)
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AgentTimeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !backend.IsRetryable(err) {
			return attempt, err
		}
	}
	return cfg.MaxRetries, err
}

// runMicro executes one paper analysis end to end and reports the
// outcome. A paper with no retrievable text skips without failing.
func (e *executor) runMicro(ctx context.Context, run model.Run, agent model.Agent, paper model.Paper) microOutcome {
	out := microOutcome{agent: agent, paper: paper}

	if !paper.Retrievable() {
		e.finishAgent(ctx, &agent, model.AgentStatusSkipped, 0, "paper has no retrievable text")
		e.stats.skipped.Add(1)
		e.appendLog(ctx, run.ID, &agent.ID, model.LogWarn, "paper skipped: no retrievable text",
			map[string]any{"paper_id": paper.ID, "depth": agent.Depth})
		out.status = model.AgentStatusSkipped
		out.agent = agent
		return out
	}

	if err := e.beginAgent(ctx, &agent); err != nil {
		out.status = model.AgentStatusFailed
		out.err = fmt.Errorf("engine: activate micro agent: %w", err)
		return out
	}

	var analysis backend.PaperAnalysis
	retries, err := e.withRetry(ctx, run.Config, func(attemptCtx context.Context) error {
		var aerr error
		analysis, aerr = e.backend.AnalyzePaper(attemptCtx, backend.PaperInput{
			Query: run.Query,
			Depth: agent.Depth,
			Paper: paper,
		})
		return aerr
	})
	if err != nil {
		e.finishAgent(ctx, &agent, model.AgentStatusFailed, retries, err.Error())
		e.stats.failed.Add(1)
		e.appendLog(ctx, run.ID, &agent.ID, model.LogError, "paper analysis failed",
			map[string]any{"paper_id": paper.ID, "depth": agent.Depth, "retries": retries, "error": err.Error()})
		out.status = model.AgentStatusFailed
		out.agent = agent
		out.err = fmt.Errorf("%w: %v", ErrAgentFailed, err)
		return out
	}

	if err := e.persistOutput(ctx, run.ID, agent, ContextKeyFindings, model.ResultPaperFindings,
		analysis.Findings, analysis.Confidence, []string{paper.ID}, false); err != nil {
		e.finishAgent(ctx, &agent, model.AgentStatusFailed, retries, err.Error())
		e.stats.failed.Add(1)
		out.status = model.AgentStatusFailed
		out.agent = agent
		out.err = err
		return out
	}

	e.finishAgent(ctx, &agent, model.AgentStatusCompleted, retries, "")
	e.stats.completed.Add(1)
	out.status = model.AgentStatusCompleted
	out.agent = agent
	out.findings = analysis.Findings
	return out
}

// runMeso executes the round's single clustering pass over completed
// findings.
func (e *executor) runMeso(ctx context.Context, run model.Run, agent model.Agent, findings []model.PaperFindings) (backend.Clustering, error) {
	if err := e.beginAgent(ctx, &agent); err != nil {
		return backend.Clustering{}, fmt.Errorf("engine: activate meso agent: %w", err)
	}

	var clustering backend.Clustering
	retries, err := e.withRetry(ctx, run.Config, func(attemptCtx context.Context) error {
		var cerr error
		clustering, cerr = e.backend.ClusterFindings(attemptCtx, backend.ClusterInput{
			Query:    run.Query,
			Depth:    agent.Depth,
			Findings: findings,
		})
		return cerr
	})
	if err != nil {
		e.finishAgent(ctx, &agent, model.AgentStatusFailed, retries, err.Error())
		e.stats.failed.Add(1)
		e.appendLog(ctx, run.ID, &agent.ID, model.LogError, "clustering failed",
			map[string]any{"depth": agent.Depth, "retries": retries, "error": err.Error()})
		return backend.Clustering{}, fmt.Errorf("%w: %v", ErrAgentFailed, err)
	}

	citations := make([]string, 0, len(findings))
	for _, f := range findings {
		citations = append(citations, f.PaperID)
	}
	if err := e.persistOutput(ctx, run.ID, agent, ContextKeyClusters, model.ResultClusterSummary,
		clustering.Summary, clustering.Confidence, citations, false); err != nil {
		e.finishAgent(ctx, &agent, model.AgentStatusFailed, retries, err.Error())
		e.stats.failed.Add(1)
		return backend.Clustering{}, err
	}

	e.finishAgent(ctx, &agent, model.AgentStatusCompleted, retries, "")
	e.stats.completed.Add(1)
	return clustering, nil
}

// runMeta executes the round's single synthesis pass. Result rows are
// persisted later by the scheduler, once the convergence decision fixes
// the is_final flag.
func (e *executor) runMeta(ctx context.Context, run model.Run, agent model.Agent, clusters model.ClusterSummary, prior *model.GapRanking) (backend.Synthesis, error) {
	if err := e.beginAgent(ctx, &agent); err != nil {
		return backend.Synthesis{}, fmt.Errorf("engine: activate meta agent: %w", err)
	}

	var synthesis backend.Synthesis
	retries, err := e.withRetry(ctx, run.Config, func(attemptCtx context.Context) error {
		var serr error
		synthesis, serr = e.backend.SynthesizeGaps(attemptCtx, backend.SynthesisInput{
			Query:    run.Query,
			Depth:    agent.Depth,
			Clusters: clusters,
			Prior:    prior,
		})
		return serr
	})
	if err != nil {
		e.finishAgent(ctx, &agent, model.AgentStatusFailed, retries, err.Error())
		e.stats.failed.Add(1)
		e.appendLog(ctx, run.ID, &agent.ID, model.LogError, "gap synthesis failed",
			map[string]any{"depth": agent.Depth, "retries": retries, "error": err.Error()})
		return backend.Synthesis{}, fmt.Errorf("%w: %v", ErrAgentFailed, err)
	}

	e.finishAgent(ctx, &agent, model.AgentStatusCompleted, retries, "")
	e.stats.completed.Add(1)
	return synthesis, nil
}

// persistOutput writes an agent's output to its context key and records
// the corresponding result row.
func (e *executor) persistOutput(ctx context.Context, runID uuid.UUID, agent model.Agent, key string, typ model.ResultType, content any, confidence float64, citations []string, isFinal bool) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("engine: marshal %s output: %w", agent.Kind, err)
	}

	if _, err := e.ctxs.Write(ctx, model.WriteContextRequest{
		RunID:   runID,
		AgentID: agent.ID,
		Key:     key,
		Data:    payload,
		Mode:    model.WriteOverwrite,
		Metadata: map[string]any{
			"kind":  string(agent.Kind),
			"depth": agent.Depth,
		},
	}); err != nil {
		return fmt.Errorf("engine: write %s context: %w", key, err)
	}

	if err := e.st.InsertResult(ctx, model.Result{
		ID:         uuid.New(),
		RunID:      runID,
		AgentID:    agent.ID,
		Type:       typ,
		Depth:      agent.Depth,
		Content:    payload,
		Confidence: confidence,
		Citations:  citations,
		IsFinal:    isFinal,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("engine: insert %s result: %w", typ, err)
	}
	return nil
}
