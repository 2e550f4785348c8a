package engine

import "github.com/lacuna-ai/lacuna/internal/model"

// convergenceTopN caps how many top-ranked gaps the similarity measure
// considers.
const convergenceTopN = 10

// similarity measures rank-weighted theme overlap between two successive
// gap rankings, in [0,1].
//
// With N the size of the larger top-list (capped at convergenceTopN),
// rank i carries weight N-i. Themes present in both lists contribute the
// smaller of their two weights; the sum is normalized by the current
// list's total weight. Identical top lists score 1, disjoint lists 0,
// and a theme that moved far down contributes only its lesser weight.
func similarity(prev, cur []model.Gap) float64 {
	if len(cur) == 0 {
		return 0
	}

	n := len(prev)
	if len(cur) > n {
		n = len(cur)
	}
	if n > convergenceTopN {
		n = convergenceTopN
	}

	weight := func(gaps []model.Gap) map[string]int {
		w := make(map[string]int, n)
		for i, g := range gaps {
			if i >= n {
				break
			}
			if _, dup := w[g.Theme]; dup {
				continue
			}
			w[g.Theme] = n - i
		}
		return w
	}
	prevW, curW := weight(prev), weight(cur)

	var overlap, total int
	for theme, wc := range curW {
		total += wc
		if wp, ok := prevW[theme]; ok {
			if wp < wc {
				overlap += wp
			} else {
				overlap += wc
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(overlap) / float64(total)
}

// shouldStop decides whether the run terminates after the round at the
// given depth. Returns the reason for the run log.
//
// A threshold of 0 (or below) is satisfied by any first ranking, so the
// run stops after one round. A threshold above 1 can never be met and
// the run always reaches maxDepth.
func shouldStop(depth int, sim float64, cfg model.RunConfig) (bool, string) {
	if depth == 0 && cfg.ConvergenceThreshold <= 0 {
		return true, "converged: threshold satisfied by first ranking"
	}
	if depth > 0 && sim >= cfg.ConvergenceThreshold {
		return true, "converged: ranking similarity reached threshold"
	}
	if depth+1 >= cfg.MaxDepth {
		return true, "max depth reached"
	}
	return false, ""
}
