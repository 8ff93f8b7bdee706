package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cropsage/cropsage/internal/assistant"
	"github.com/cropsage/cropsage/internal/crops"
	"github.com/cropsage/cropsage/internal/embedder"
	"github.com/cropsage/cropsage/internal/history"
	"github.com/cropsage/cropsage/internal/rag"
	"github.com/cropsage/cropsage/internal/reranker"
	"github.com/cropsage/cropsage/internal/tools"
)

// openCrops opens the crop statistics database at CROPS_DB, falling back to
// the default path under ~/.cropsage.
func openCrops(log *slog.Logger) (*crops.Store, error) {
	path := os.Getenv("CROPS_DB")
	if path == "" {
		var err error
		path, err = crops.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := crops.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("crops: database opened", slog.String("path", path))
	return store, nil
}

// openHistory opens the conversation history store. CROPSAGE_HISTORY_DB
// overrides the default path (~/.cropsage/history.db); set it to "disabled"
// to turn persistence off. Failures degrade to stateless operation rather
// than aborting the command.
func openHistory(log *slog.Logger) (history.ConversationStore, func()) {
	noop := func() {}

	dbPath := os.Getenv("CROPSAGE_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via CROPSAGE_HISTORY_DB=disabled")
		return nil, noop
	}
	if dbPath == "" {
		var err error
		dbPath, err = history.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, noop
		}
	}

	hs, err := history.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, noop
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs, func() { _ = hs.Close() }
}

// buildVectorStore connects to Qdrant using the QDRANT_* environment
// variables. The returned cleanup closes the connection.
func buildVectorStore(ctx context.Context) (*rag.QdrantStore, func(), error) {
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend))

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "crop-guide"),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant: %w", err)
	}
	return store, func() { store.Close() }, nil
}

// buildRetriever assembles the recall-then-rerank retriever over Qdrant.
// The returned cleanup closes the Qdrant connection. The store is returned
// separately so serve can wire a readiness probe against it.
func buildRetriever(ctx context.Context, log *slog.Logger) (rag.Retriever, *rag.QdrantStore, func(), error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embedder: %w", err)
	}

	store, closeStore, err := buildVectorStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	retriever, err := rag.NewRerankRetriever(emb, store, reranker.NewFromEnv())
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}

	log.Info("retriever ready",
		slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "crop-guide")),
	)
	return retriever, store, closeStore, nil
}

// assistantConfig assembles the shared parts of an assistant.Config: the
// crop query tools, retrieval K overrides, and conversation history.
func assistantConfig(store *crops.Store, retriever rag.Retriever, hist history.ConversationStore) *assistant.Config {
	return &assistant.Config{
		Tools:     tools.All(store),
		Retriever: retriever,
		RecallK:   getEnvInt("RAG_RECALL_K", 0),
		RerankK:   getEnvInt("RAG_RERANK_K", 0),
		History:   hist,
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
