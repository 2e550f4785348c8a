package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lacuna-ai/lacuna/internal/backend"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// watchdogInterval is how often the watchdog scans for stalled runs.
const watchdogInterval = 15 * time.Second

// runHandle tracks one live execution.
type runHandle struct {
	cancel   context.CancelCauseFunc
	started  time.Time
	deadline time.Time
}

// Orchestrator owns run lifecycles: it starts runs, launches their
// depth loops on background goroutines, answers status queries, and
// force-fails runs that blow their timeout.
type Orchestrator struct {
	st         store.Store
	ctxs       *contexts.Service
	defaultBkd backend.Backend
	backendCfg backend.Config
	logger     *slog.Logger
	version    string
	stats      *queueStats

	mu      sync.Mutex
	handles map[uuid.UUID]*runHandle

	stopWatchdog chan struct{}
	watchdogDone chan struct{}
}

// NewOrchestrator creates the engine and starts its watchdog.
func NewOrchestrator(st store.Store, ctxs *contexts.Service, defaultBkd backend.Backend, backendCfg backend.Config, logger *slog.Logger, version string) *Orchestrator {
	o := &Orchestrator{
		st:           st,
		ctxs:         ctxs,
		defaultBkd:   defaultBkd,
		backendCfg:   backendCfg,
		logger:       logger,
		version:      version,
		stats:        &queueStats{},
		handles:      make(map[uuid.UUID]*runHandle),
		stopWatchdog: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	o.stats.maxWorkers.Store(int64(model.DefaultMaxAgents))
	o.stats.registerMetrics()
	go o.watchdogLoop()
	return o
}

// Close stops the watchdog and cancels every live execution.
func (o *Orchestrator) Close() {
	close(o.stopWatchdog)
	<-o.watchdogDone

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, h := range o.handles {
		h.cancel(ErrCancelled)
	}
}

// Start validates and registers a new run in the initializing state. It
// returns immediately; execution is a separate step.
func (o *Orchestrator) Start(ctx context.Context, ownerID, query string, cfg *model.RunConfig) (model.Run, error) {
	if err := model.ValidateQuery(query); err != nil {
		return model.Run{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var config model.RunConfig
	if cfg == nil {
		config = model.RunConfig{ConvergenceThreshold: model.DefaultConvergenceThreshold}
	} else {
		config = *cfg
	}
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return model.Run{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	run := model.Run{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Query:     query,
		Status:    model.RunStatusInitializing,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.st.CreateRun(ctx, run); err != nil {
		return model.Run{}, fmt.Errorf("engine: create run: %w", err)
	}

	o.logger.Info("run created", "run_id", run.ID, "max_depth", config.MaxDepth,
		"max_agents", config.MaxAgents, "convergence_threshold", config.ConvergenceThreshold)
	return run, nil
}

// Execute launches the run's depth loop on a background goroutine and
// returns promptly. A run can execute at most once at a time; a second
// Execute while one is in flight, or on a terminal run, returns
// ErrAlreadyRunning.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID, papers []model.Paper, backendName string) error {
	run, err := o.st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusInitializing {
		return fmt.Errorf("%w: run is %s", ErrAlreadyRunning, run.Status)
	}
	if err := model.ValidatePapers(papers); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	bkd := o.defaultBkd
	if backendName != "" {
		bkd, err = backend.Select(backendName, o.backendCfg, o.logger)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	if err := o.st.TransitionRun(ctx, runID, model.RunStatusInitializing, model.RunStatusExecuting, ""); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: run is no longer startable", ErrAlreadyRunning)
		}
		return err
	}
	run.Status = model.RunStatusExecuting

	// The execution context outlives the HTTP request that triggered it.
	runCtx, timeoutCancel := context.WithTimeoutCause(context.Background(), run.Config.Timeout, ErrRunTimeout)
	runCtx, cancel := context.WithCancelCause(runCtx)

	now := time.Now().UTC()
	o.mu.Lock()
	if _, live := o.handles[runID]; live {
		o.mu.Unlock()
		cancel(nil)
		timeoutCancel()
		return ErrAlreadyRunning
	}
	o.handles[runID] = &runHandle{
		cancel:   cancel,
		started:  now,
		deadline: now.Add(run.Config.Timeout),
	}
	o.mu.Unlock()

	if int64(run.Config.MaxAgents) > o.stats.maxWorkers.Load() {
		o.stats.maxWorkers.Store(int64(run.Config.MaxAgents))
	}

	go func() {
		defer timeoutCancel()
		o.execute(runCtx, run, papers, bkd)
	}()
	return nil
}

// execute drives one run to a terminal state.
func (o *Orchestrator) execute(ctx context.Context, run model.Run, papers []model.Paper, bkd backend.Backend) {
	defer func() {
		o.mu.Lock()
		delete(o.handles, run.ID)
		o.mu.Unlock()
	}()

	exec := &executor{st: o.st, ctxs: o.ctxs, backend: bkd, logger: o.logger, stats: o.stats}
	sched := &scheduler{exec: exec, logger: o.logger, stats: o.stats}

	exec.appendLog(ctx, run.ID, nil, model.LogInfo, "execution started", map[string]any{
		"papers": len(papers), "backend": bkd.Name(),
	})

	err := sched.runDepthLoop(ctx, run, papers)
	cause := context.Cause(ctx)
	switch {
	case err == nil:
		o.finishRun(run.ID, model.RunStatusCompleted, "")
		o.logger.Info("run completed", "run_id", run.ID)

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(cause, ErrRunTimeout):
		o.finishRun(run.ID, model.RunStatusFailed, ErrRunTimeout.Error())
		o.logger.Warn("run timed out", "run_id", run.ID, "timeout", run.Config.Timeout)

	case errIsCancellation(err) || errors.Is(cause, ErrCancelled):
		o.finishRun(run.ID, model.RunStatusCancelled, "run cancelled")
		o.logger.Info("run cancelled", "run_id", run.ID)

	default:
		o.finishRun(run.ID, model.RunStatusFailed, err.Error())
		o.logger.Error("run failed", "run_id", run.ID, "error", err)
	}
}

// finishRun transitions an executing run to a terminal state. Uses a
// fresh context: the run context is typically already dead here.
func (o *Orchestrator) finishRun(runID uuid.UUID, to model.RunStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.st.TransitionRun(ctx, runID, model.RunStatusExecuting, to, errMsg); err != nil {
		o.logger.Error("run finalization failed", "run_id", runID, "to", to, "error", err)
		return
	}

	level := model.LogInfo
	msg := "run " + string(to)
	if to == model.RunStatusFailed {
		level = model.LogError
	}
	kv := map[string]any{}
	if errMsg != "" {
		kv["error"] = errMsg
	}
	exec := &executor{st: o.st, logger: o.logger, stats: o.stats}
	exec.appendLog(ctx, runID, nil, level, msg, kv)
}

// Cancel stops a run cooperatively: the run context is flipped and the
// depth loop notices at its next boundary. In-flight backend calls run
// to completion. Cancelling a terminal run is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, runID uuid.UUID) error {
	run, err := o.st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	o.mu.Lock()
	h, live := o.handles[runID]
	o.mu.Unlock()

	if live {
		h.cancel(ErrCancelled)
		return nil
	}
	// No live execution: an initializing run, or one orphaned by a
	// restart. Finalize directly.
	if err := o.st.TransitionRun(ctx, runID, run.Status, model.RunStatusCancelled, "run cancelled"); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	return nil
}

// Status reports run progress derived purely from persisted state.
func (o *Orchestrator) Status(ctx context.Context, runID uuid.UUID) (model.Progress, error) {
	run, err := o.st.GetRun(ctx, runID)
	if err != nil {
		return model.Progress{}, err
	}
	agents, err := o.st.ListAgents(ctx, runID)
	if err != nil {
		return model.Progress{}, err
	}

	byStatus := make(map[string]int)
	byKind := make(map[string]int)
	terminal, currentDepth := 0, 0
	for _, a := range agents {
		byStatus[string(a.Status)]++
		byKind[string(a.Kind)]++
		if a.Status.Terminal() {
			terminal++
		}
		if a.Depth > currentDepth {
			currentDepth = a.Depth
		}
	}

	percent := 0.0
	switch {
	case run.Status.Terminal():
		percent = 100
	case len(agents) > 0:
		percent = 100 * float64(terminal) / float64(len(agents))
	}

	var elapsed int64
	if run.StartedAt != nil {
		end := time.Now().UTC()
		if run.CompletedAt != nil {
			end = *run.CompletedAt
		}
		elapsed = end.Sub(*run.StartedAt).Milliseconds()
	}

	_, total, err := o.st.ListLogs(ctx, store.LogFilter{RunID: runID, Limit: 1})
	if err != nil {
		return model.Progress{}, err
	}
	offset := total - 10
	if offset < 0 {
		offset = 0
	}
	recent, _, err := o.st.ListLogs(ctx, store.LogFilter{RunID: runID, Limit: 10, Offset: offset})
	if err != nil {
		return model.Progress{}, err
	}

	return model.Progress{
		RunID:           runID,
		Status:          run.Status,
		PercentComplete: percent,
		CurrentDepth:    currentDepth,
		AgentsByStatus:  byStatus,
		AgentsByKind:    byKind,
		TotalAgents:     len(agents),
		ElapsedMs:       elapsed,
		ErrorMessage:    run.ErrorMessage,
		RecentLogs:      recent,
	}, nil
}

// HealthCheck reports substrate reachability and any executing run whose
// most recent agent activity is older than its configured timeout.
func (o *Orchestrator) HealthCheck(ctx context.Context) model.Health {
	h := model.Health{Status: "ok", Version: o.version}

	if err := o.st.Ping(ctx); err != nil {
		h.Status = "degraded"
		return h
	}

	executing, err := o.st.ListRunsByStatus(ctx, model.RunStatusExecuting)
	if err != nil {
		h.Status = "degraded"
		return h
	}
	now := time.Now().UTC()
	for _, run := range executing {
		if stalledSince(run, now, o.lastActivity(ctx, run)) {
			h.StalledRuns = append(h.StalledRuns, run.ID)
		}
	}
	if len(h.StalledRuns) > 0 {
		h.Status = "degraded"
	}
	return h
}

// lastActivity is the most recent agent timestamp of a run, falling back
// to the run's own start time.
func (o *Orchestrator) lastActivity(ctx context.Context, run model.Run) time.Time {
	last := run.CreatedAt
	if run.StartedAt != nil {
		last = *run.StartedAt
	}
	agents, err := o.st.ListAgents(ctx, run.ID)
	if err != nil {
		return last
	}
	for _, a := range agents {
		if a.CompletedAt != nil && a.CompletedAt.After(last) {
			last = *a.CompletedAt
		} else if a.StartedAt != nil && a.StartedAt.After(last) {
			last = *a.StartedAt
		}
	}
	return last
}

func stalledSince(run model.Run, now, lastActivity time.Time) bool {
	timeout := run.Config.Timeout
	if timeout <= 0 {
		timeout = model.DefaultRunTimeout
	}
	return now.Sub(lastActivity) > timeout
}

// QueueStats snapshots the scheduler's cumulative counters.
func (o *Orchestrator) QueueStats() model.QueueStats {
	return o.stats.snapshot()
}

// watchdogLoop force-fails runs that outlive their timeout. It covers
// executions whose backend calls ignore context deadlines and runs
// orphaned in the executing state by a restart.
func (o *Orchestrator) watchdogLoop() {
	defer close(o.watchdogDone)

	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopWatchdog:
			return
		case <-ticker.C:
			o.reapStalled()
		}
	}
}

func (o *Orchestrator) reapStalled() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executing, err := o.st.ListRunsByStatus(ctx, model.RunStatusExecuting)
	if err != nil {
		o.logger.Error("watchdog scan failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, run := range executing {
		o.mu.Lock()
		h, live := o.handles[run.ID]
		o.mu.Unlock()

		if live {
			if now.Before(h.deadline) {
				continue
			}
			// The timeout cause will finalize the run as failed.
			h.cancel(ErrRunTimeout)
			continue
		}
		if !stalledSince(run, now, o.lastActivity(ctx, run)) {
			continue
		}
		if err := o.st.TransitionRun(ctx, run.ID, model.RunStatusExecuting, model.RunStatusFailed, ErrRunTimeout.Error()); err != nil {
			if !errors.Is(err, store.ErrConflict) {
				o.logger.Error("watchdog finalization failed", "run_id", run.ID, "error", err)
			}
			continue
		}
		o.logger.Warn("watchdog failed stalled run", "run_id", run.ID)
	}
}
