// Package engine contains the recursive orchestration core: the
// scheduler that fans micro agents out and barriers them per depth
// round, the convergence check between rounds, the gap ranking, and the
// orchestrator that owns run lifecycles.
package engine

import "errors"

var (
	// ErrValidation marks a rejected input (empty query, bad config,
	// empty paper set). Mapped to HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyRunning is returned by Execute when the run already has
	// an execution in flight or is past the startable state. Mapped to
	// HTTP 409.
	ErrAlreadyRunning = errors.New("run already executing")

	// ErrAgentFailed marks a single agent whose retries are exhausted.
	ErrAgentFailed = errors.New("agent failed")

	// ErrRoundFailed marks a depth round aborted because failed micro
	// agents outnumbered half the round, or no agent completed.
	ErrRoundFailed = errors.New("round failed")

	// ErrRunTimeout marks a run force-failed by the watchdog.
	ErrRunTimeout = errors.New("run timed out")

	// ErrCancelled marks a run stopped by an explicit cancel.
	ErrCancelled = errors.New("run cancelled")
)
