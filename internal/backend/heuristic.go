package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// Heuristic is a deterministic text-statistics backend. It needs no
// external service, which makes it the default for local runs and the
// fixture for engine tests: the same input always yields the same
// themes, clusters, and gaps.
type Heuristic struct {
	maxThemes   int
	maxClusters int
	maxGaps     int
}

// NewHeuristic creates the deterministic backend.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		maxThemes:   8,
		maxClusters: 6,
		maxGaps:     10,
	}
}

// Name identifies the backend.
func (h *Heuristic) Name() string { return "heuristic" }

// stopwords excluded from term extraction. Small on purpose: the goal
// is stable themes, not linguistic precision.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"that": {}, "the": {}, "these": {}, "this": {}, "to": {}, "was": {},
	"we": {}, "were": {}, "which": {}, "with": {}, "also": {}, "can": {},
	"not": {}, "but": {}, "such": {}, "their": {}, "between": {}, "using": {},
	"paper": {}, "study": {}, "results": {}, "show": {}, "based": {},
	"more": {}, "than": {}, "both": {}, "may": {}, "been": {}, "other": {},
}

// claimMarkers and limitationMarkers select sentences for claims and
// limitations extraction. Matching is case-insensitive substring.
var (
	claimMarkers = []string{
		"we show", "we propose", "we present", "we introduce", "we find",
		"we demonstrate", "demonstrates that", "results indicate",
		"our results", "outperforms", "achieves",
	}
	limitationMarkers = []string{
		"limitation", "limited to", "future work", "does not address",
		"remains open", "remains unclear", "beyond the scope",
		"not evaluated", "did not consider", "unexplored", "understudied",
		"lacks", "however",
	}
)

// AnalyzePaper extracts themes from term frequencies and pulls claim and
// limitation sentences by marker phrases.
func (h *Heuristic) AnalyzePaper(_ context.Context, in PaperInput) (PaperAnalysis, error) {
	if !in.Paper.Retrievable() {
		return PaperAnalysis{}, fmt.Errorf("heuristic: paper %q has no retrievable text", in.Paper.ID)
	}

	text := in.Paper.Title + ". " + in.Paper.Text
	themes := topTerms(text, h.maxThemes)

	var claims, limitations []string
	for _, sentence := range splitSentences(in.Paper.Text) {
		lower := strings.ToLower(sentence)
		if containsAny(lower, claimMarkers) {
			claims = append(claims, sentence)
		}
		if containsAny(lower, limitationMarkers) {
			limitations = append(limitations, sentence)
		}
	}

	// Longer papers give the term statistics more to work with.
	confidence := 0.4 + 0.6*clamp01(float64(len(in.Paper.Text))/4000)

	return PaperAnalysis{
		Findings: model.PaperFindings{
			PaperID:     in.Paper.ID,
			Title:       in.Paper.Title,
			Themes:      themes,
			Claims:      claims,
			Limitations: limitations,
		},
		Confidence: confidence,
	}, nil
}

// clusterSimilarityThreshold is the minimum Jaccard similarity between a
// finding's themes and a cluster's term set for the finding to join it.
const clusterSimilarityThreshold = 0.2

// ClusterFindings groups findings greedily by Jaccard similarity of
// their theme sets. Input order is the engine's deterministic paper
// order, so the grouping is reproducible.
func (h *Heuristic) ClusterFindings(_ context.Context, in ClusterInput) (Clustering, error) {
	if len(in.Findings) == 0 {
		return Clustering{}, fmt.Errorf("heuristic: no findings to cluster")
	}

	type protoCluster struct {
		terms  map[string]int
		papers []string
	}
	var protos []*protoCluster

	for _, f := range in.Findings {
		themeSet := make(map[string]struct{}, len(f.Themes))
		for _, t := range f.Themes {
			themeSet[t] = struct{}{}
		}

		best, bestSim := -1, 0.0
		for i, pc := range protos {
			sim := jaccard(themeSet, pc.terms)
			if sim > bestSim {
				best, bestSim = i, sim
			}
		}

		if best >= 0 && bestSim >= clusterSimilarityThreshold {
			for t := range themeSet {
				protos[best].terms[t]++
			}
			protos[best].papers = append(protos[best].papers, f.PaperID)
			continue
		}
		terms := make(map[string]int, len(themeSet))
		for t := range themeSet {
			terms[t] = 1
		}
		protos = append(protos, &protoCluster{terms: terms, papers: []string{f.PaperID}})
	}

	// Largest clusters first, then by name for stability.
	clusters := make([]model.Cluster, 0, len(protos))
	for _, pc := range protos {
		terms := rankTerms(pc.terms)
		if len(terms) > h.maxThemes {
			terms = terms[:h.maxThemes]
		}
		name := strings.Join(firstN(terms, 3), " / ")
		clusters = append(clusters, model.Cluster{
			Name:        name,
			Description: fmt.Sprintf("%d papers sharing terms: %s", len(pc.papers), strings.Join(terms, ", ")),
			Papers:      pc.papers,
			Terms:       terms,
		})
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		if len(clusters[i].Papers) != len(clusters[j].Papers) {
			return len(clusters[i].Papers) > len(clusters[j].Papers)
		}
		return clusters[i].Name < clusters[j].Name
	})
	if len(clusters) > h.maxClusters {
		clusters = clusters[:h.maxClusters]
	}

	// Cohesion: share of papers landing in multi-paper clusters.
	grouped := 0
	for _, c := range clusters {
		if len(c.Papers) > 1 {
			grouped += len(c.Papers)
		}
	}
	confidence := 0.5 + 0.5*clamp01(float64(grouped)/float64(len(in.Findings)))

	return Clustering{
		Summary:    model.ClusterSummary{Depth: in.Depth, Clusters: clusters},
		Confidence: confidence,
	}, nil
}

// SynthesizeGaps derives one candidate gap per cluster from the stated
// limitations of its papers, scoring each criterion from cluster
// statistics. Themes already ranked in a prior round score lower on
// novelty.
func (h *Heuristic) SynthesizeGaps(_ context.Context, in SynthesisInput) (Synthesis, error) {
	if len(in.Clusters.Clusters) == 0 {
		return Synthesis{}, fmt.Errorf("heuristic: no clusters to synthesize from")
	}

	priorThemes := make(map[string]struct{})
	if in.Prior != nil {
		for _, g := range in.Prior.Gaps {
			priorThemes[g.Theme] = struct{}{}
		}
	}

	totalPapers := 0
	for _, c := range in.Clusters.Clusters {
		totalPapers += len(c.Papers)
	}

	var gaps []model.Gap
	for i, c := range in.Clusters.Clusters {
		share := clamp01(float64(len(c.Papers)) / float64(totalPapers))
		novelty := 0.9
		if _, seen := priorThemes[c.Name]; seen {
			novelty = 0.4
		}
		// Earlier clusters are larger, so feasibility of addressing the
		// gap decays with rank: broader gaps are harder to close.
		feasibility := clamp01(0.9 - 0.1*float64(i))

		gaps = append(gaps, model.Gap{
			Theme: c.Name,
			Description: fmt.Sprintf(
				"Underexplored intersection of %s across %d papers", c.Name, len(c.Papers)),
			Scores: model.GapScores{
				Importance:  0.3 + 0.7*share,
				Novelty:     novelty,
				Feasibility: feasibility,
				Impact:      0.2 + 0.8*share,
			},
			Confidence: clamp01(0.3 + 0.15*float64(len(c.Papers))),
			Papers:     c.Papers,
			Clusters:   []string{c.Name},
		})
	}
	if len(gaps) > h.maxGaps {
		gaps = gaps[:h.maxGaps]
	}

	// Terms shared by two or more clusters read as cross-domain patterns;
	// single-cluster terms as frontier directions.
	termClusters := make(map[string]int)
	for _, c := range in.Clusters.Clusters {
		for _, t := range c.Terms {
			termClusters[t]++
		}
	}
	var patterns, frontier []string
	for t, n := range termClusters {
		if n >= 2 {
			patterns = append(patterns, t)
		} else {
			frontier = append(frontier, t)
		}
	}
	sort.Strings(patterns)
	sort.Strings(frontier)
	if len(frontier) > h.maxThemes {
		frontier = frontier[:h.maxThemes]
	}

	return Synthesis{
		Gaps:       gaps,
		Patterns:   patterns,
		Frontier:   frontier,
		Confidence: clamp01(0.4 + 0.1*float64(len(gaps))),
	}, nil
}

// topTerms returns the n most frequent non-stopword terms, frequency
// descending with alphabetical tie-break.
func topTerms(text string, n int) []string {
	freq := make(map[string]int)
	for _, w := range tokenize(text) {
		if _, skip := stopwords[w]; skip {
			continue
		}
		if len(w) < 3 {
			continue
		}
		freq[w]++
	}
	terms := rankTerms(freq)
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func rankTerms(freq map[string]int) []string {
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	return terms
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '-'
	})
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func jaccard(a map[string]struct{}, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
