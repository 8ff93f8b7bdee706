package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/cropsage/cropsage/internal/assistant"
	"github.com/cropsage/cropsage/internal/logging"
	"github.com/cropsage/cropsage/internal/provider"
	"github.com/cropsage/cropsage/internal/server"
	"github.com/cropsage/cropsage/internal/tracing"
)

// NewServeCmd constructs the `cropsage serve` command, which starts the
// HTTP API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the CropSage HTTP API server",
		Long: `Start the CropSage HTTP server on localhost.

The server exposes POST /api/chat for answering crop questions, plus
health, readiness, and Prometheus metrics endpoints.

Examples:
  cropsage serve
  cropsage serve --port 9090
  MODEL_PROVIDER=openai cropsage serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over config; config wins over the built-in defaults.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			cropStore, err := openCrops(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cropStore.Close()

			retriever, vectorStore, closeRetriever, err := buildRetriever(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetriever()

			hist, closeHistory := openHistory(log)
			defer closeHistory()

			cfg := assistantConfig(cropStore, retriever, hist)
			cfg.ChatModel = chatModel

			sage, err := assistant.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise assistant: %w", err)
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, string(providerCfg.Backend)),
				server.NewQdrantPinger(vectorStore.Client()),
				server.NewCropsPinger(cropStore),
			}

			srv, err := server.New(sage, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				APIKey:    os.Getenv("CROPSAGE_API_KEY"),
				RateLimit: float64(getEnvInt("SERVER_RATE_LIMIT", 0)),
				RateBurst: getEnvInt("SERVER_RATE_BURST", 5),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
