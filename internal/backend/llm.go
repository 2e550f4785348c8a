package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lacuna-ai/lacuna/internal/model"
)

// chatter is the single-call surface both LLM providers implement. The
// prompt asks for strict JSON; the reply is the raw completion text.
type chatter interface {
	chat(ctx context.Context, prompt string) (string, error)
}

const analyzeSystem = `You analyze one academic paper for a literature review.
Respond with JSON only, no prose, matching:
{"themes":["..."],"claims":["..."],"limitations":["..."],"confidence":0.0}
themes: 3-8 short noun phrases. claims: the paper's main claims.
limitations: stated limitations and open problems. confidence: 0-1.`

const clusterSystem = `You group paper findings into research themes.
Respond with JSON only, no prose, matching:
{"clusters":[{"name":"...","description":"...","papers":["id"],"terms":["..."]}],"confidence":0.0}
Every paper id must appear in exactly one cluster.`

const synthesisSystem = `You identify research gaps from clustered findings.
Respond with JSON only, no prose, matching:
{"gaps":[{"theme":"...","description":"...","importance":0.0,"novelty":0.0,
"feasibility":0.0,"impact":0.0,"confidence":0.0,"papers":["id"],"clusters":["name"]}],
"patterns":["..."],"frontier":["..."],"confidence":0.0}
All scores are 0-1. patterns: cross-domain regularities. frontier: emerging directions.`

func runAnalyze(ctx context.Context, c chatter, name string, in PaperInput) (PaperAnalysis, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nResearch question: %s\n", analyzeSystem, in.Query)
	fmt.Fprintf(&sb, "Paper title: %s\n", in.Paper.Title)
	if in.Paper.Venue != "" {
		fmt.Fprintf(&sb, "Venue: %s (%d)\n", in.Paper.Venue, in.Paper.Year)
	}
	fmt.Fprintf(&sb, "Paper text:\n%s\n", in.Paper.Text)

	raw, err := c.chat(ctx, sb.String())
	if err != nil {
		return PaperAnalysis{}, err
	}

	var parsed struct {
		Themes      []string `json:"themes"`
		Claims      []string `json:"claims"`
		Limitations []string `json:"limitations"`
		Confidence  float64  `json:"confidence"`
	}
	if err := decodeCompletion(raw, &parsed); err != nil {
		return PaperAnalysis{}, fmt.Errorf("%s: analyze: %w", name, err)
	}
	if len(parsed.Themes) == 0 {
		return PaperAnalysis{}, fmt.Errorf("%s: analyze: response has no themes", name)
	}

	return PaperAnalysis{
		Findings: model.PaperFindings{
			PaperID:     in.Paper.ID,
			Title:       in.Paper.Title,
			Themes:      parsed.Themes,
			Claims:      parsed.Claims,
			Limitations: parsed.Limitations,
		},
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

func runCluster(ctx context.Context, c chatter, name string, in ClusterInput) (Clustering, error) {
	findings, err := json.Marshal(in.Findings)
	if err != nil {
		return Clustering{}, fmt.Errorf("%s: marshal findings: %w", name, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nResearch question: %s\n", clusterSystem, in.Query)
	fmt.Fprintf(&sb, "Findings (JSON):\n%s\n", findings)

	raw, err := c.chat(ctx, sb.String())
	if err != nil {
		return Clustering{}, err
	}

	var parsed struct {
		Clusters   []model.Cluster `json:"clusters"`
		Confidence float64         `json:"confidence"`
	}
	if err := decodeCompletion(raw, &parsed); err != nil {
		return Clustering{}, fmt.Errorf("%s: cluster: %w", name, err)
	}
	if len(parsed.Clusters) == 0 {
		return Clustering{}, fmt.Errorf("%s: cluster: response has no clusters", name)
	}

	return Clustering{
		Summary:    model.ClusterSummary{Depth: in.Depth, Clusters: parsed.Clusters},
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

func runSynthesize(ctx context.Context, c chatter, name string, in SynthesisInput) (Synthesis, error) {
	clusters, err := json.Marshal(in.Clusters)
	if err != nil {
		return Synthesis{}, fmt.Errorf("%s: marshal clusters: %w", name, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nResearch question: %s\n", synthesisSystem, in.Query)
	fmt.Fprintf(&sb, "Clusters (JSON):\n%s\n", clusters)
	if in.Prior != nil {
		prior, err := json.Marshal(in.Prior)
		if err != nil {
			return Synthesis{}, fmt.Errorf("%s: marshal prior ranking: %w", name, err)
		}
		fmt.Fprintf(&sb, "Previous round's gap ranking (refine, do not repeat verbatim):\n%s\n", prior)
	}

	raw, err := c.chat(ctx, sb.String())
	if err != nil {
		return Synthesis{}, err
	}

	var parsed struct {
		Gaps []struct {
			Theme       string   `json:"theme"`
			Description string   `json:"description"`
			Importance  float64  `json:"importance"`
			Novelty     float64  `json:"novelty"`
			Feasibility float64  `json:"feasibility"`
			Impact      float64  `json:"impact"`
			Confidence  float64  `json:"confidence"`
			Papers      []string `json:"papers"`
			Clusters    []string `json:"clusters"`
		} `json:"gaps"`
		Patterns   []string `json:"patterns"`
		Frontier   []string `json:"frontier"`
		Confidence float64  `json:"confidence"`
	}
	if err := decodeCompletion(raw, &parsed); err != nil {
		return Synthesis{}, fmt.Errorf("%s: synthesize: %w", name, err)
	}
	if len(parsed.Gaps) == 0 {
		return Synthesis{}, fmt.Errorf("%s: synthesize: response has no gaps", name)
	}

	gaps := make([]model.Gap, 0, len(parsed.Gaps))
	for _, g := range parsed.Gaps {
		gaps = append(gaps, model.Gap{
			Theme:       g.Theme,
			Description: g.Description,
			Scores: model.GapScores{
				Importance:  clamp01(g.Importance),
				Novelty:     clamp01(g.Novelty),
				Feasibility: clamp01(g.Feasibility),
				Impact:      clamp01(g.Impact),
			},
			Confidence: clamp01(g.Confidence),
			Papers:     g.Papers,
			Clusters:   g.Clusters,
		})
	}

	return Synthesis{
		Gaps:       gaps,
		Patterns:   parsed.Patterns,
		Frontier:   parsed.Frontier,
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

// decodeCompletion unmarshals a completion into v, tolerating markdown
// code fences around the JSON body.
func decodeCompletion(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}
