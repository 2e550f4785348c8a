package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/telemetry"
)

// focusTopGaps bounds how many top-ranked gaps the gap_linked focus
// strategy draws papers from.
const focusTopGaps = 5

// queueStats tracks cumulative scheduler counters across all runs.
type queueStats struct {
	maxWorkers atomic.Int64

	inFlight  atomic.Int64
	launched  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	retries   atomic.Int64
}

func (q *queueStats) snapshot() model.QueueStats {
	return model.QueueStats{
		MaxWorkers:     int(q.maxWorkers.Load()),
		InFlight:       q.inFlight.Load(),
		TasksLaunched:  q.launched.Load(),
		TasksCompleted: q.completed.Load(),
		TasksFailed:    q.failed.Load(),
		TasksSkipped:   q.skipped.Load(),
		TaskRetries:    q.retries.Load(),
	}
}

// registerMetrics exposes the counters as observable gauges. Safe to
// call when telemetry is disabled; observations go to the no-op meter.
func (q *queueStats) registerMetrics() {
	meter := telemetry.Meter("lacuna.engine")

	observe := func(name, desc string, read func() int64) {
		_, _ = meter.Int64ObservableGauge(name,
			metric.WithDescription(desc),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(read())
				return nil
			}),
		)
	}
	observe("lacuna.scheduler.tasks.in_flight", "Agent tasks currently executing", q.inFlight.Load)
	observe("lacuna.scheduler.tasks.launched", "Agent tasks launched", q.launched.Load)
	observe("lacuna.scheduler.tasks.completed", "Agent tasks completed", q.completed.Load)
	observe("lacuna.scheduler.tasks.failed", "Agent tasks failed", q.failed.Load)
	observe("lacuna.scheduler.tasks.skipped", "Agent tasks skipped", q.skipped.Load)
	observe("lacuna.scheduler.tasks.retries", "Agent task retry attempts", q.retries.Load)
}

// scheduler drives one run's depth loop: micro fan-out behind a
// weighted semaphore, the round barrier, then the meso and meta stages
// in strict order.
type scheduler struct {
	exec   *executor
	logger *slog.Logger
	stats  *queueStats
}

// roundOutput is what one depth round hands to the convergence check.
type roundOutput struct {
	ranking   model.GapRanking
	synthesis backend.Synthesis
	metaAgent model.Agent
}

// runDepthLoop executes rounds until convergence, max depth, or failure.
// It owns the run's terminal status transition for success and round
// failure; cancellation and timeout are mapped by the orchestrator.
func (s *scheduler) runDepthLoop(ctx context.Context, run model.Run, papers []model.Paper) error {
	var prior *model.GapRanking

	for depth := 0; depth < run.Config.MaxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		roundPapers := s.selectPapers(depth, papers, prior, run.Config.FocusStrategy)
		s.exec.appendLog(ctx, run.ID, nil, model.LogInfo, "round started", map[string]any{
			"depth": depth, "papers": len(roundPapers),
		})

		out, err := s.runRound(ctx, run, depth, roundPapers, prior)
		if err != nil {
			return err
		}

		sim := 0.0
		if prior != nil {
			sim = similarity(prior.Gaps, out.ranking.Gaps)
		}
		stop, reason := shouldStop(depth, sim, run.Config)

		if err := s.exec.persistOutput(ctx, run.ID, out.metaAgent, ContextKeyGapRanking,
			model.ResultGapRanking, out.ranking, out.synthesis.Confidence, rankingCitations(out.ranking), stop); err != nil {
			return err
		}
		if len(out.synthesis.Patterns) > 0 {
			if err := s.exec.persistOutput(ctx, run.ID, out.metaAgent, "cross_domain_patterns",
				model.ResultCrossDomainPatterns, out.synthesis.Patterns, out.synthesis.Confidence, nil, stop); err != nil {
				return err
			}
		}
		if len(out.synthesis.Frontier) > 0 {
			if err := s.exec.persistOutput(ctx, run.ID, out.metaAgent, "research_frontier",
				model.ResultResearchFrontier, out.synthesis.Frontier, out.synthesis.Confidence, nil, stop); err != nil {
				return err
			}
		}

		s.exec.appendLog(ctx, run.ID, nil, model.LogInfo, "round finished", map[string]any{
			"depth": depth, "gaps": len(out.ranking.Gaps), "similarity": sim, "stop": stop,
		})

		if stop {
			s.exec.appendLog(ctx, run.ID, nil, model.LogInfo, reason, map[string]any{"depth": depth})
			return nil
		}
		prior = &out.ranking
	}
	return nil
}

// selectPapers applies the focus strategy. Depth 0 always takes the
// full set; the gap_linked strategy narrows deeper rounds to papers
// cited by the prior round's top gaps, keeping input order.
func (s *scheduler) selectPapers(depth int, papers []model.Paper, prior *model.GapRanking, strategy model.FocusStrategy) []model.Paper {
	if depth == 0 || strategy != model.FocusGapLinked || prior == nil {
		return papers
	}

	cited := make(map[string]struct{})
	for i, g := range prior.Gaps {
		if i >= focusTopGaps {
			break
		}
		for _, p := range g.Papers {
			cited[p] = struct{}{}
		}
	}
	if len(cited) == 0 {
		return papers
	}

	focused := make([]model.Paper, 0, len(cited))
	for _, p := range papers {
		if _, ok := cited[p.ID]; ok {
			focused = append(focused, p)
		}
	}
	if len(focused) == 0 {
		return papers
	}
	return focused
}

// runRound executes one full depth round: micro fan-out, barrier,
// majority-failure check, meso clustering, meta synthesis, critic, and
// ranking.
func (s *scheduler) runRound(ctx context.Context, run model.Run, depth int, papers []model.Paper, prior *model.GapRanking) (roundOutput, error) {
	outcomes, err := s.fanOutMicro(ctx, run, depth, papers)
	if err != nil {
		return roundOutput{}, err
	}

	// Barrier holds here: every launched micro agent is terminal.
	var completedAgents []model.Agent
	var failedCount int
	for _, o := range outcomes {
		switch o.status {
		case model.AgentStatusCompleted:
			completedAgents = append(completedAgents, o.agent)
		case model.AgentStatusFailed:
			failedCount++
		}
	}
	if failedCount*2 > len(outcomes) {
		return roundOutput{}, fmt.Errorf("%w: %d of %d micro agents failed at depth %d (majority)",
			ErrRoundFailed, failedCount, len(outcomes), depth)
	}
	if len(completedAgents) == 0 {
		return roundOutput{}, fmt.Errorf("%w: no micro agent completed at depth %d", ErrRoundFailed, depth)
	}

	findings, err := s.collectFindings(ctx, run.ID, completedAgents)
	if err != nil {
		return roundOutput{}, err
	}

	mesoAgent, err := s.exec.spawnAgent(ctx, run.ID, model.AgentMeso, depth, map[string]any{
		"findings": len(findings),
	})
	if err != nil {
		return roundOutput{}, err
	}
	s.stats.launched.Add(1)
	s.stats.inFlight.Add(1)
	clustering, err := s.exec.runMeso(ctx, run, mesoAgent, findings)
	s.stats.inFlight.Add(-1)
	if err != nil {
		return roundOutput{}, err
	}

	metaAgent, err := s.exec.spawnAgent(ctx, run.ID, model.AgentMeta, depth, map[string]any{
		"clusters": len(clustering.Summary.Clusters),
	})
	if err != nil {
		return roundOutput{}, err
	}
	s.stats.launched.Add(1)
	s.stats.inFlight.Add(1)
	synthesis, err := s.exec.runMeta(ctx, run, metaAgent, clustering.Summary, prior)
	s.stats.inFlight.Add(-1)
	if err != nil {
		return roundOutput{}, err
	}

	gaps, pruned := applyCritic(synthesis.Gaps, run.Config)
	if pruned > 0 {
		s.exec.appendLog(ctx, run.ID, &metaAgent.ID, model.LogInfo, "critic pruned low-confidence gaps",
			map[string]any{"depth": depth, "pruned": pruned})
	}

	return roundOutput{
		ranking:   model.GapRanking{Depth: depth, Gaps: rankGaps(gaps, run.Config.ScoreWeights)},
		synthesis: synthesis,
		metaAgent: metaAgent,
	}, nil
}

// fanOutMicro launches one micro agent per paper, bounded by the run's
// MaxAgents semaphore, and blocks until all outcomes are in. Outcomes
// keep paper submission order regardless of completion order.
func (s *scheduler) fanOutMicro(ctx context.Context, run model.Run, depth int, papers []model.Paper) ([]microOutcome, error) {
	sem := semaphore.NewWeighted(int64(run.Config.MaxAgents))
	outcomes := make([]microOutcome, len(papers))

	var wg sync.WaitGroup
	for i, paper := range papers {
		agent, err := s.exec.spawnAgent(ctx, run.ID, model.AgentMicro, depth, map[string]any{
			"paper_id": paper.ID, "paper_title": paper.Title,
		})
		if err != nil {
			wg.Wait()
			return nil, err
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Run cancelled mid fan-out. Mark the unlaunched agent and
			// wait for the in-flight ones.
			s.exec.finishAgent(ctx, &agent, model.AgentStatusSkipped, 0, "run cancelled before launch")
			wg.Wait()
			return nil, err
		}

		s.stats.launched.Add(1)
		s.stats.inFlight.Add(1)
		wg.Add(1)
		go func(idx int, a model.Agent, p model.Paper) {
			defer wg.Done()
			defer sem.Release(1)
			defer s.stats.inFlight.Add(-1)
			outcomes[idx] = s.exec.runMicro(ctx, run, a, p)
		}(i, agent, paper)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// collectFindings reads each completed micro agent's findings back
// through the context store, preserving agent completion registration
// order.
func (s *scheduler) collectFindings(ctx context.Context, runID uuid.UUID, agents []model.Agent) ([]model.PaperFindings, error) {
	findings := make([]model.PaperFindings, 0, len(agents))
	for _, a := range agents {
		entry, err := s.exec.st.LatestContext(ctx, runID, a.ID, ContextKeyFindings)
		if err != nil {
			return nil, fmt.Errorf("engine: read findings for agent %s: %w", a.ID, err)
		}
		var f model.PaperFindings
		if err := json.Unmarshal(entry.Payload, &f); err != nil {
			return nil, fmt.Errorf("engine: decode findings for agent %s: %w", a.ID, err)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func rankingCitations(r model.GapRanking) []string {
	seen := make(map[string]struct{})
	var citations []string
	for _, g := range r.Gaps {
		for _, p := range g.Papers {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			citations = append(citations, p)
		}
	}
	return citations
}

// errIsCancellation reports whether err is a context cancellation rather
// than a scheduling failure.
func errIsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
