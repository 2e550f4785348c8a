package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacuna-ai/lacuna/internal/model"
)

func TestRankGapsEqualWeights(t *testing.T) {
	gaps := []model.Gap{
		{Theme: "low", Scores: model.GapScores{Importance: 0.2, Novelty: 0.2, Feasibility: 0.2, Impact: 0.2}},
		{Theme: "high", Scores: model.GapScores{Importance: 0.9, Novelty: 0.9, Feasibility: 0.9, Impact: 0.9}},
		{Theme: "mid", Scores: model.GapScores{Importance: 0.5, Novelty: 0.5, Feasibility: 0.5, Impact: 0.5}},
	}

	ranked := rankGaps(gaps, model.ScoreWeights{})
	require.Len(t, ranked, 3)
	assert.Equal(t, "high", ranked[0].Theme)
	assert.Equal(t, "mid", ranked[1].Theme)
	assert.Equal(t, "low", ranked[2].Theme)
	assert.InDelta(t, 0.9, ranked[0].TotalScore, 1e-9)

	// Input slice is untouched.
	assert.Equal(t, "low", gaps[0].Theme)
	assert.Zero(t, gaps[0].TotalScore)
}

func TestRankGapsCustomWeights(t *testing.T) {
	gaps := []model.Gap{
		{Theme: "novel", Scores: model.GapScores{Novelty: 1.0}},
		{Theme: "important", Scores: model.GapScores{Importance: 1.0}},
	}

	// Novelty dominates: the novel gap must win despite equal raw totals.
	ranked := rankGaps(gaps, model.ScoreWeights{Importance: 1, Novelty: 3, Feasibility: 1, Impact: 1})
	assert.Equal(t, "novel", ranked[0].Theme)
	assert.InDelta(t, 0.5, ranked[0].TotalScore, 1e-9)
	assert.InDelta(t, 1.0/6.0, ranked[1].TotalScore, 1e-9)
}

func TestRankGapsTieBreaks(t *testing.T) {
	same := model.GapScores{Importance: 0.5, Novelty: 0.5, Feasibility: 0.5, Impact: 0.5}
	gaps := []model.Gap{
		{Theme: "first", Scores: same, Confidence: 0.4},
		{Theme: "confident", Scores: same, Confidence: 0.9},
		{Theme: "second", Scores: same, Confidence: 0.4},
	}

	ranked := rankGaps(gaps, model.ScoreWeights{})
	assert.Equal(t, "confident", ranked[0].Theme)
	// Equal score and confidence keeps insertion order.
	assert.Equal(t, "first", ranked[1].Theme)
	assert.Equal(t, "second", ranked[2].Theme)
}

func TestRankGapsDeterministic(t *testing.T) {
	gaps := []model.Gap{
		{Theme: "a", Scores: model.GapScores{Importance: 0.7, Novelty: 0.3}, Confidence: 0.5},
		{Theme: "b", Scores: model.GapScores{Importance: 0.3, Novelty: 0.7}, Confidence: 0.5},
		{Theme: "c", Scores: model.GapScores{Importance: 0.5, Novelty: 0.5}, Confidence: 0.5},
	}
	first := rankGaps(gaps, model.ScoreWeights{})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rankGaps(gaps, model.ScoreWeights{}))
	}
}

func TestApplyCritic(t *testing.T) {
	gaps := []model.Gap{
		{Theme: "strong", Confidence: 0.8},
		{Theme: "weak", Confidence: 0.1},
	}

	kept, pruned := applyCritic(gaps, model.RunConfig{EnableCritic: true, ConfidenceThreshold: 0.3})
	require.Len(t, kept, 1)
	assert.Equal(t, "strong", kept[0].Theme)
	assert.Equal(t, 1, pruned)

	// Disabled critic keeps everything.
	kept, pruned = applyCritic(gaps, model.RunConfig{EnableCritic: false, ConfidenceThreshold: 0.3})
	assert.Len(t, kept, 2)
	assert.Zero(t, pruned)

	// The critic never empties a ranking.
	kept, pruned = applyCritic(gaps, model.RunConfig{EnableCritic: true, ConfidenceThreshold: 0.95})
	assert.Len(t, kept, 2)
	assert.Zero(t, pruned)
}
