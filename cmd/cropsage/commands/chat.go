package commands

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cropsage/cropsage/internal/assistant"
	"github.com/cropsage/cropsage/internal/logging"
	"github.com/cropsage/cropsage/internal/provider"
)

// NewChatCmd constructs the `cropsage chat` command, an interactive REPL
// that keeps conversation history across turns within a session.
func NewChatCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session with the crop assistant",
		Long: `Start an interactive terminal session with CropSage.

Each session has an id; turns are persisted to the history database and
earlier turns in the same session are replayed as context, so follow-up
questions work. Pass --session to resume a previous conversation.

Type "exit" or press Ctrl-D to quit.

Examples:
  cropsage chat
  cropsage chat --session barn-planning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if session == "" {
				session = newSessionID()
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("chat: failed to initialise model provider: %w", err)
			}

			cropStore, err := openCrops(log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer cropStore.Close()

			retriever, _, closeRetriever, err := buildRetriever(ctx, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v (guide retrieval unavailable)\n", err)
			} else {
				defer closeRetriever()
			}

			hist, closeHistory := openHistory(log)
			defer closeHistory()

			cfg := assistantConfig(cropStore, retriever, hist)
			cfg.ChatModel = chatModel

			sage, err := assistant.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("chat: failed to initialise assistant: %w", err)
			}

			fmt.Printf("CropSage ready (session %s). Type \"exit\" to quit.\n", session)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("you> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}

				turn, err := sage.Answer(ctx, session, line)
				if err != nil {
					// A failed turn does not end the session.
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				fmt.Printf("sage> %s\n", turn.Answer)
				if turn.Path == assistant.PathRetrieval {
					for _, c := range turn.Chunks {
						fmt.Printf("      [%.2f] %s\n", c.Score, c.Source)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id to resume (default: a fresh random id)")

	return cmd
}

// newSessionID returns a short random hex id for a fresh chat session.
func newSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "session"
	}
	return hex.EncodeToString(b)
}
