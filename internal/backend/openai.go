package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI runs analysis against the OpenAI chat completions API.
type OpenAI struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI-backed inference client.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.openai.com/v1",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name identifies the backend.
func (o *OpenAI) Name() string { return "openai" }

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAI) chat(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(openAIChatRequest{
		Model:          o.model,
		Messages:       []openAIMessage{{Role: "user", Content: prompt}},
		ResponseFormat: &openAIFormat{Type: "json_object"},
		Temperature:    0,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", Retryable(fmt.Errorf("openai: send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Retryable(fmt.Errorf("openai: read response: %w", err))
	}

	var result openAIChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("openai: unmarshal response: %w", err)
	}
	if result.Error != nil {
		err := fmt.Errorf("openai: %s: %s", result.Error.Type, result.Error.Message)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", Retryable(err)
		}
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("openai: unexpected status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return "", Retryable(err)
		}
		return "", err
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: empty completion returned")
	}
	return result.Choices[0].Message.Content, nil
}

// AnalyzePaper extracts themes, claims, and limitations from one paper.
func (o *OpenAI) AnalyzePaper(ctx context.Context, in PaperInput) (PaperAnalysis, error) {
	return runAnalyze(ctx, o, o.Name(), in)
}

// ClusterFindings groups the round's findings into named themes.
func (o *OpenAI) ClusterFindings(ctx context.Context, in ClusterInput) (Clustering, error) {
	return runCluster(ctx, o, o.Name(), in)
}

// SynthesizeGaps derives candidate research gaps from the clusters.
func (o *OpenAI) SynthesizeGaps(ctx context.Context, in SynthesisInput) (Synthesis, error) {
	return runSynthesize(ctx, o, o.Name(), in)
}
