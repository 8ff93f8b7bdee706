// Package reranker implements the rag.Reranker interface with a cross-encoder
// served over HTTP. Unlike embedding similarity, a cross-encoder scores each
// (query, candidate) pair jointly, which is what makes the rerank stage more
// precise than the recall stage.
//
// The client targets the text-embeddings-inference /rerank API, which serves
// cross-encoder models such as mmarco-mMiniLMv2-L12-H384-v1.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cropsage/cropsage/internal/rag"
)

// defaultEndpoint is the local text-embeddings-inference server.
const defaultEndpoint = "http://localhost:8088"

// HTTPReranker implements rag.Reranker against a /rerank endpoint.
// It is safe for concurrent use.
type HTTPReranker struct {
	// endpoint is the reranker server base URL.
	endpoint string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// Config holds the settings for constructing an HTTPReranker.
type Config struct {
	// Endpoint is the reranker server base URL (e.g. "http://localhost:8088").
	Endpoint string
	// Timeout bounds each scoring request. Defaults to 30s if zero.
	Timeout time.Duration
}

// New constructs an HTTPReranker from the given config.
func New(cfg *Config) *HTTPReranker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPReranker{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// NewFromEnv constructs an HTTPReranker from RERANKER_ENDPOINT.
func NewFromEnv() *HTTPReranker {
	return New(&Config{Endpoint: os.Getenv("RERANKER_ENDPOINT")})
}

// rerankRequest is the JSON body sent to the /rerank endpoint.
type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// rerankResult is one element of the /rerank response array. Index refers to
// the position of the scored text in the request.
type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Score returns one cross-encoder relevance score per document, parallel to
// docs. The server may return results in score order; they are placed back
// by index.
func (r *HTTPReranker) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Texts: docs})
	if err != nil {
		return nil, fmt.Errorf("reranker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reranker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("reranker: HTTP %d", resp.StatusCode)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}
	if len(results) != len(docs) {
		return nil, fmt.Errorf("reranker: expected %d scores, got %d", len(docs), len(results))
	}

	scores := make([]float32, len(docs))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, fmt.Errorf("reranker: index %d out of range [0, %d)", res.Index, len(docs))
		}
		scores[res.Index] = res.Score
	}

	return scores, nil
}

// compile-time interface check
var _ rag.Reranker = (*HTTPReranker)(nil)
