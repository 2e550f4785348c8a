package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResultType categorizes agent outputs.
type ResultType string

const (
	// ResultPaperFindings is a micro agent's per-paper analysis.
	ResultPaperFindings ResultType = "paper_findings"
	// ResultClusterSummary is a meso agent's theme clustering for one round.
	ResultClusterSummary ResultType = "cluster_summary"
	// ResultGapRanking is a meta agent's ranked research-gap list.
	ResultGapRanking ResultType = "gap_ranking"
	// ResultCrossDomainPatterns is a meta agent's auxiliary pattern summary.
	ResultCrossDomainPatterns ResultType = "cross_domain_patterns"
	// ResultResearchFrontier is a meta agent's auxiliary frontier summary.
	ResultResearchFrontier ResultType = "research_frontier"
)

// Result is one persisted agent output. Intermediate results stay queryable
// for audit; only meta outputs at the terminating depth carry IsFinal.
type Result struct {
	ID         uuid.UUID       `json:"id"`
	RunID      uuid.UUID       `json:"run_id"`
	AgentID    uuid.UUID       `json:"agent_id"`
	Type       ResultType      `json:"type"`
	Depth      int             `json:"depth"`
	Content    json.RawMessage `json:"content"`
	Confidence float64         `json:"confidence"`
	Citations  []string        `json:"citations,omitempty"`
	IsFinal    bool            `json:"is_final"`
	CreatedAt  time.Time       `json:"created_at"`
}

// GapScores are the four independent criterion scores for one candidate
// gap, each in [0,1].
type GapScores struct {
	Importance  float64 `json:"importance"`
	Novelty     float64 `json:"novelty"`
	Feasibility float64 `json:"feasibility"`
	Impact      float64 `json:"impact"`
}

// Gap is one candidate research gap produced by a meta agent.
//
// TotalScore is a weighted sum of the criterion scores; Confidence is a
// separate scalar reflecting evidential support (contributing papers and
// clusters), used only to break ranking ties.
type Gap struct {
	Theme       string    `json:"theme"`
	Description string    `json:"description"`
	Scores      GapScores `json:"scores"`
	TotalScore  float64   `json:"total_score"`
	Confidence  float64   `json:"confidence"`
	Papers      []string  `json:"papers,omitempty"`
	Clusters    []string  `json:"clusters,omitempty"`
}

// GapRanking is the content payload of a ResultGapRanking result.
// Gaps are ordered descending by TotalScore with deterministic tie-breaks.
type GapRanking struct {
	Depth int   `json:"depth"`
	Gaps  []Gap `json:"gaps"`
}

// Cluster is one named theme grouping of papers within a round.
type Cluster struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Papers      []string `json:"papers"`
	Terms       []string `json:"terms,omitempty"`
}

// ClusterSummary is the content payload of a ResultClusterSummary result.
type ClusterSummary struct {
	Depth    int       `json:"depth"`
	Clusters []Cluster `json:"clusters"`
}

// PaperFindings is the content payload of a ResultPaperFindings result.
type PaperFindings struct {
	PaperID     string   `json:"paper_id"`
	Title       string   `json:"title"`
	Themes      []string `json:"themes"`
	Claims      []string `json:"claims,omitempty"`
	Limitations []string `json:"limitations,omitempty"`
}
