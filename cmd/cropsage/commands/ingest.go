package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cropsage/cropsage/internal/crops"
	"github.com/cropsage/cropsage/internal/embedder"
	"github.com/cropsage/cropsage/internal/ingestion"
	"github.com/cropsage/cropsage/internal/logging"
)

// NewIngestCmd constructs the `cropsage ingest` command, which indexes crop
// guide documents into the vector store and seeds the crop statistics
// database from CSV.
func NewIngestCmd() *cobra.Command {
	var files []string
	var cropsCSV string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index crop guide documents and seed the crop database",
		Long: `Populate CropSage's two knowledge sources.

--file chunks a plain-text guide document, embeds the chunks, and upserts
them into the Qdrant vector store for retrieval answers.

--crops-csv loads crop statistics (growth time, yield, sell price, seed
cost) from a CSV file into the local SQLite database behind the structured
query tools. Re-running replaces nothing; rows are appended, so seed into
a fresh database.

Required environment variables for --file:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: crop-guide)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  cropsage ingest --file docs/crop-guide.txt
  cropsage ingest --file guide-spring.txt --file guide-summer.txt
  cropsage ingest --crops-csv data/crops.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 && cropsCSV == "" {
				return fmt.Errorf("ingest: at least one --file or --crops-csv is required")
			}

			if cropsCSV != "" {
				if err := seedCrops(cmd, cropsCSV, log); err != nil {
					return err
				}
			}

			if len(files) == 0 {
				return nil
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			store, closeStore, err := buildVectorStore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeStore()

			pipeline, err := ingestion.NewPipeline(emb, store, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			total := 0
			for _, f := range files {
				log.Info("ingesting guide document", slog.String("file", f))
				n, err := pipeline.IngestFile(ctx, f, func(msg string) {
					log.Info(msg)
				})
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", f, err)
				}
				total += n
			}

			log.Info("ingestion complete",
				slog.Int("files", len(files)),
				slog.Int("chunks", total),
			)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Guide document to index (repeatable)")
	cmd.Flags().StringVar(&cropsCSV, "crops-csv", "", "CSV file of crop statistics to load into the crop database")

	return cmd
}

// seedCrops loads the CSV at path into the crop statistics database.
func seedCrops(cmd *cobra.Command, path string, log *slog.Logger) error {
	records, err := crops.LoadCSV(path)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	store, err := openCrops(log)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	defer store.Close()

	if err := store.InsertBatch(cmd.Context(), records); err != nil {
		return fmt.Errorf("ingest: seeding crop database: %w", err)
	}

	log.Info("crop database seeded",
		slog.String("csv", path),
		slog.Int("records", len(records)),
	)
	return nil
}
