// Package ingestion implements the crop guide ingestion pipeline.
// It reads a guide text file, splits the content into paragraph chunks,
// embeds each chunk, and upserts the results into the vector store.
// This pipeline is invoked by the `cropsage ingest` CLI command.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cropsage/cropsage/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// MaxChunkSize is the maximum number of characters per chunk. Paragraphs
	// longer than this are windowed with ChunkOverlap. Defaults to 1000.
	MaxChunkSize int

	// ChunkOverlap is the number of characters overlapped between consecutive
	// windows of an oversize paragraph. Defaults to 100.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded and upserted per round trip.
	// Defaults to 32.
	BatchSize int
}

// Pipeline orchestrates the read, chunk, embed, upsert flow for guide files.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.MaxChunkSize {
		cfg.ChunkOverlap = cfg.MaxChunkSize / 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}, nil
}

// IngestFile reads a guide text file, chunks it, embeds the chunks in
// batches, and upserts them into the vector store. Progress is reported via
// the optional progress callback. Ingestion runs offline, never concurrently
// with query traffic.
func (p *Pipeline) IngestFile(ctx context.Context, path string, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	source := filepath.Base(path)
	chunks := Chunk(string(data), p.cfg.MaxChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("ingestion: %s contains no text", path)
	}
	progress(fmt.Sprintf("chunked %s into %d paragraphs", source, len(chunks)))

	total := 0
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		embeddings, err := p.embedder.Embed(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("ingestion: embedding failed for %s: %w", source, err)
		}

		docs := make([]rag.Document, 0, len(batch))
		for i, chunk := range batch {
			docs = append(docs, rag.Document{
				ID:      chunkID(source, start+i),
				Content: chunk,
				Source:  source,
			})
		}

		if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
			return total, fmt.Errorf("ingestion: upsert failed for %s: %w", source, err)
		}
		total += len(batch)
		progress(fmt.Sprintf("ingested %d/%d chunks from %s", total, len(chunks), source))
	}

	return total, nil
}

// Chunk splits guide text into paragraphs separated by blank lines.
// Paragraphs longer than maxSize are windowed into overlapping pieces so no
// chunk exceeds the embedder's comfortable input size.
func Chunk(text string, maxSize, overlap int) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= maxSize {
			chunks = append(chunks, para)
			continue
		}
		for start := 0; start < len(para); start += maxSize - overlap {
			end := start + maxSize
			if end > len(para) {
				end = len(para)
			}
			chunks = append(chunks, para[start:end])
			if end == len(para) {
				break
			}
		}
	}
	return chunks
}

// chunkID generates a deterministic ID for a chunk based on its source file
// and chunk index, so re-ingesting the same guide overwrites in place.
func chunkID(source string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return fmt.Sprintf("%x", h[:16])
}
