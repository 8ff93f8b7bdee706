// Package rag defines the interfaces for the retrieval half of the crop
// assistant: embedding, vector storage, and cross-encoder reranking.
// Concrete implementations (Qdrant, HTTP embedders/rerankers) satisfy these
// interfaces so the assistant layer never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// ErrRetrievalUnavailable marks failures of the embedding service or the
// vector index. Callers distinguish it from an empty result set with
// errors.Is so "service down" is never rendered as "no data".
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Document is a unit of retrievable knowledge-base text. Documents are
// written once at ingestion time and never mutated; a full re-ingestion is
// the only way to replace them.
type Document struct {
	// ID is the stable identifier for this chunk.
	ID string

	// Content is the raw chunk text.
	Content string

	// Source is the origin file or URL the chunk was ingested from.
	Source string

	// Score is the relevance score assigned during retrieval. After the
	// rerank stage it holds the cross-encoder score, which may be negative;
	// higher is always more relevant.
	Score float32
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists and searches document embeddings.
// Implementations must be safe to call from multiple goroutines; writes are
// assumed to happen offline, never concurrently with query traffic.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns up to topK documents nearest to the query embedding,
	// in the index's coarse distance order. Fewer than topK may exist;
	// an empty index yields an empty slice, not an error.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// Reranker scores (query, candidate) pairs with a cross-encoder.
// Implementations must be safe to call from multiple goroutines.
type Reranker interface {
	// Score returns one relevance score per document, parallel to docs.
	// Higher means more relevant to the query.
	Score(ctx context.Context, query string, docs []string) ([]float32, error)
}

// Retriever is the high-level interface the assistant uses to fetch grounded
// context for a query: recall k1 candidates, rerank, return the top k2.
type Retriever interface {
	// Retrieve returns up to k2 documents ordered by descending relevance.
	Retrieve(ctx context.Context, query string, k1, k2 int) ([]Document, error)
}
