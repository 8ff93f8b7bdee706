package rag

import (
	"context"
	"fmt"
	"sort"
)

// Default recall and rerank depths used when the caller passes zero.
const (
	// DefaultRecallK is the coarse nearest-neighbour depth (high recall).
	DefaultRecallK = 10
	// DefaultRerankK is the number of reranked documents returned (high precision).
	DefaultRerankK = 4
)

// RerankRetriever implements Retriever as a two-stage pipeline: a coarse
// vector recall over the store followed by a pairwise cross-encoder rerank.
type RerankRetriever struct {
	// embedder converts the query text to a dense vector.
	embedder Embedder

	// store performs the approximate nearest-neighbour recall.
	store VectorStore

	// reranker scores each recalled candidate against the query.
	reranker Reranker
}

// NewRerankRetriever constructs a RerankRetriever from its three stages.
func NewRerankRetriever(embedder Embedder, store VectorStore, reranker Reranker) (*RerankRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if reranker == nil {
		return nil, fmt.Errorf("rag: reranker must not be nil")
	}
	return &RerankRetriever{
		embedder: embedder,
		store:    store,
		reranker: reranker,
	}, nil
}

// Retrieve embeds the query, recalls the k1 nearest documents, reranks them
// pairwise against the query, and returns the top k2 in descending score
// order. Ties keep the recall order (stable sort), so repeated calls against
// an unchanged index return identical output.
//
// If the index holds fewer than k1 documents the pipeline proceeds with what
// exists; an empty index yields an empty slice and no error. Embedder, store,
// or reranker failures wrap ErrRetrievalUnavailable.
func (r *RerankRetriever) Retrieve(ctx context.Context, query string, k1, k2 int) ([]Document, error) {
	if k1 <= 0 {
		k1 = DefaultRecallK
	}
	if k2 <= 0 {
		k2 = DefaultRerankK
	}
	if k2 > k1 {
		return nil, fmt.Errorf("rag: rerank depth %d exceeds recall depth %d", k2, k1)
	}
	if query == "" {
		return nil, fmt.Errorf("rag: query must not be empty")
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w: %w", ErrRetrievalUnavailable, err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned no vector for query: %w", ErrRetrievalUnavailable)
	}

	recalled, err := r.store.Search(ctx, embeddings[0], k1)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search: %w: %w", ErrRetrievalUnavailable, err)
	}
	if len(recalled) == 0 {
		// No grounding available — a valid outcome, not a failure.
		return nil, nil
	}

	texts := make([]string, len(recalled))
	for i, doc := range recalled {
		texts[i] = doc.Content
	}

	scores, err := r.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("rag: rerank scoring: %w: %w", ErrRetrievalUnavailable, err)
	}
	if len(scores) != len(recalled) {
		return nil, fmt.Errorf("rag: reranker returned %d scores for %d candidates: %w",
			len(scores), len(recalled), ErrRetrievalUnavailable)
	}

	for i := range recalled {
		recalled[i].Score = scores[i]
	}

	// Stable sort preserves recall order among equal scores.
	sort.SliceStable(recalled, func(i, j int) bool {
		return recalled[i].Score > recalled[j].Score
	})

	if len(recalled) > k2 {
		recalled = recalled[:k2]
	}
	return recalled, nil
}
