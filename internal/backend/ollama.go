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

// Ollama runs analysis against a local Ollama server. This is the
// recommended LLM backend for on-premises deployments: papers never
// leave the operator's network and there are no per-token costs.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a backend that calls Ollama's chat API. Model should
// be an instruction-tuned model like "llama3.1" or "qwen2.5".
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name identifies the backend.
func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Format   string          `json:"format"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (o *Ollama) chat(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Format:   "json",
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", Retryable(fmt.Errorf("ollama: send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return "", Retryable(err)
		}
		return "", err
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama: %s", result.Error)
	}
	if result.Message.Content == "" {
		return "", fmt.Errorf("ollama: empty completion returned")
	}
	return result.Message.Content, nil
}

// AnalyzePaper extracts themes, claims, and limitations from one paper.
func (o *Ollama) AnalyzePaper(ctx context.Context, in PaperInput) (PaperAnalysis, error) {
	return runAnalyze(ctx, o, o.Name(), in)
}

// ClusterFindings groups the round's findings into named themes.
func (o *Ollama) ClusterFindings(ctx context.Context, in ClusterInput) (Clustering, error) {
	return runCluster(ctx, o, o.Name(), in)
}

// SynthesizeGaps derives candidate research gaps from the clusters.
func (o *Ollama) SynthesizeGaps(ctx context.Context, in SynthesisInput) (Synthesis, error) {
	return runSynthesize(ctx, o, o.Name(), in)
}
