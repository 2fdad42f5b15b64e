// Package cmd defines the CLI commands for the green-OA scrape queue.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/config"
	"github.com/Impactstory/oadoi/internal/logging"
	"github.com/Impactstory/oadoi/internal/metrics"
)

var (
	cfgFile string

	// loaded by the root PersistentPreRunE, shared by subcommands
	cfg    config.Config
	logger *zap.Logger
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "greenqueue",
		Short: "Fleet-safe scrape queue for green-OA repository pages.",
		Long: `greenqueue pulls harvested repository pages from a shared Postgres
queue and scrapes them for green open-access evidence. Many independent
worker processes can run against the same queue: row-level locking keeps
any page from being claimed twice, and a shared per-domain activity table
keeps the whole fleet from hitting one repository concurrently.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			metrics.Init()
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); settings also come from GREEN_SCRAPE_* env vars")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newKickCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
