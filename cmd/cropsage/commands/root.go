// Package commands defines all Cobra CLI commands for the cropsage binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/cropsage/cropsage/internal/audit"
	"github.com/cropsage/cropsage/internal/config"
	"github.com/cropsage/cropsage/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cropsage",
		Short: "CropSage — a crop strategy assistant powered by LLMs",
		Long: `CropSage is a local-first AI assistant for farming strategy.

It answers crop questions three ways: directly from the model, from the
structured crop statistics database (growth time, yield, sell price, seed
cost), or from the indexed crop guide via retrieval.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.cropsage/config.yaml).
See 'cropsage --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.cropsage/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
