package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cropsage/cropsage/internal/assistant"
	"github.com/cropsage/cropsage/internal/logging"
	"github.com/cropsage/cropsage/internal/provider"
)

// NewAskCmd constructs the `cropsage ask` command, which sends a single
// natural language question to the assistant and prints the answer.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the crop assistant a question",
		Long: `Ask CropSage a natural language question about crops.

Simple questions are answered directly. Questions about growth time, yield,
sell price, or seed cost are answered from the crop statistics database.
Strategy questions are answered from the indexed crop guide.

Examples:
  cropsage ask "which spring crops grow in under 5 days?"
  cropsage ask "what is the most profitable crop for summer?"
  cropsage ask --sources "how should I plan my first year?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			cropStore, err := openCrops(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cropStore.Close()

			// A missing knowledge base is non-fatal for ask; the assistant
			// then answers from the model and the crop database only.
			retriever, _, closeRetriever, err := buildRetriever(ctx, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (guide retrieval unavailable)\n", err)
			} else {
				defer closeRetriever()
			}

			cfg := assistantConfig(cropStore, retriever, nil)
			cfg.ChatModel = chatModel

			sage, err := assistant.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise assistant: %w", err)
			}

			turn, err := sage.Answer(ctx, "", args[0])
			if err != nil {
				return err
			}

			fmt.Println(turn.Answer)

			if showSources && len(turn.Chunks) > 0 {
				fmt.Println("\nSources:")
				for _, c := range turn.Chunks {
					fmt.Printf("  [%.2f] %s\n", c.Score, c.Source)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the guide passages a retrieval answer was grounded on")

	return cmd
}
