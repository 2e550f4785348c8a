// Package backend provides the inference substrate for analysis agents.
//
// Defines a Backend interface with heuristic, Ollama, and OpenAI
// implementations. The interface allows swapping inference backends
// without changing the engine.
package backend

import (
	"context"
	"errors"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// PaperInput is one micro-agent analysis request.
type PaperInput struct {
	Query string
	Depth int
	Paper model.Paper
}

// PaperAnalysis is a micro agent's output for one paper.
type PaperAnalysis struct {
	Findings   model.PaperFindings
	Confidence float64
}

// ClusterInput is one meso-agent clustering request over the round's
// completed findings.
type ClusterInput struct {
	Query    string
	Depth    int
	Findings []model.PaperFindings
}

// Clustering is a meso agent's output for one round.
type Clustering struct {
	Summary    model.ClusterSummary
	Confidence float64
}

// SynthesisInput is one meta-agent request. Prior is nil at depth 0 and
// carries the previous round's ranking otherwise.
type SynthesisInput struct {
	Query    string
	Depth    int
	Clusters model.ClusterSummary
	Prior    *model.GapRanking
}

// Synthesis is a meta agent's output: candidate gaps plus auxiliary
// cross-domain patterns and frontier directions. Gap criterion scores
// are raw; the engine applies score weights and ordering.
type Synthesis struct {
	Gaps       []model.Gap
	Patterns   []string
	Frontier   []string
	Confidence float64
}

// Backend runs the three tiers of analysis.
type Backend interface {
	// Name identifies the backend in agent metadata and logs.
	Name() string

	// AnalyzePaper extracts themes, claims, and limitations from one paper.
	AnalyzePaper(ctx context.Context, in PaperInput) (PaperAnalysis, error)

	// ClusterFindings groups the round's findings into named themes.
	ClusterFindings(ctx context.Context, in ClusterInput) (Clustering, error)

	// SynthesizeGaps derives candidate research gaps from the clusters.
	SynthesizeGaps(ctx context.Context, in SynthesisInput) (Synthesis, error)
}

// retryableError marks a backend failure as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so IsRetryable reports true for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether a backend error is transient: network
// failures, timeouts, and provider 5xx responses. Malformed responses
// and 4xx rejections are permanent.
func IsRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	return false
}
