package engine

import (
	"sort"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// rankGaps computes each gap's total score as a normalized weighted sum
// of its four criterion scores and sorts descending. Ties break by
// confidence descending, then by the input order, so equal inputs always
// produce the same ordering.
func rankGaps(gaps []model.Gap, weights model.ScoreWeights) []model.Gap {
	if weights.IsZero() {
		weights = model.ScoreWeights{Importance: 1, Novelty: 1, Feasibility: 1, Impact: 1}
	}
	total := weights.Importance + weights.Novelty + weights.Feasibility + weights.Impact

	ranked := make([]model.Gap, len(gaps))
	copy(ranked, gaps)
	for i := range ranked {
		s := ranked[i].Scores
		ranked[i].TotalScore = (s.Importance*weights.Importance +
			s.Novelty*weights.Novelty +
			s.Feasibility*weights.Feasibility +
			s.Impact*weights.Impact) / total
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalScore != ranked[j].TotalScore {
			return ranked[i].TotalScore > ranked[j].TotalScore
		}
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked
}

// applyCritic drops gaps whose evidential confidence falls below the
// run's confidence threshold. Only active when the run enables the
// critic pass; returns the kept gaps and the number pruned.
func applyCritic(gaps []model.Gap, cfg model.RunConfig) ([]model.Gap, int) {
	if !cfg.EnableCritic {
		return gaps, 0
	}
	kept := gaps[:0:0]
	for _, g := range gaps {
		if g.Confidence >= cfg.ConfidenceThreshold {
			kept = append(kept, g)
		}
	}
	// Never prune a ranking down to nothing.
	if len(kept) == 0 {
		return gaps, 0
	}
	return kept, len(gaps) - len(kept)
}
