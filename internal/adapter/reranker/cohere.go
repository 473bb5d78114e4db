// Package reranker scores candidate texts against a query.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"kbrag/internal/domain"
)

const defaultCohereBaseURL = "https://api.cohere.ai/v1"

// CohereReranker calls a Cohere-compatible /rerank endpoint. SiliconFlow
// and other hosts of bce-reranker and bge-reranker speak the same API.
type CohereReranker struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type cohereRerankRequest struct {
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	Model           string   `json:"model"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents"`
}

type cohereRerankResponse struct {
	Results []cohereRerankResult `json:"results"`
}

type cohereRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Document       *struct {
		Text string `json:"text"`
	} `json:"document,omitempty"`
}

// NewCohereReranker creates a reranker reading the API key from apiKeyEnv.
func NewCohereReranker(apiKeyEnv, model, baseURL string) (*CohereReranker, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "rerank-multilingual-v3.0"
	}
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}

	return &CohereReranker{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Rerank scores every candidate and returns them by descending score.
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []string) ([]domain.RerankedText, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(cohereRerankRequest{
		Query:           query,
		Documents:       candidates,
		Model:           r.model,
		TopN:            len(candidates),
		ReturnDocuments: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var rerankResp cohereRerankResponse
	if err := json.Unmarshal(body, &rerankResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]domain.RerankedText, 0, len(rerankResp.Results))
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		text := candidates[res.Index]
		if res.Document != nil && res.Document.Text != "" {
			text = res.Document.Text
		}
		results = append(results, domain.RerankedText{
			Text:  text,
			Score: res.RelevanceScore,
			Index: res.Index,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// ModelName returns the model name.
func (r *CohereReranker) ModelName() string {
	return r.model
}
