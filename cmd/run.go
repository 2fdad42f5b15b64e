package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/api"
	"github.com/Impactstory/oadoi/internal/clock/system"
	"github.com/Impactstory/oadoi/internal/pool"
	"github.com/Impactstory/oadoi/internal/ratelimit"
	"github.com/Impactstory/oadoi/internal/runner"
	"github.com/Impactstory/oadoi/internal/scrape"
	"github.com/Impactstory/oadoi/internal/store/postgres"
)

// newRunCmd creates the 'run' subcommand: the queue worker itself.
func newRunCmd() *cobra.Command {
	var (
		singleID        string
		chunkSize       int
		limit           int
		scrapePublisher bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scrape queue worker",
		Long: `Claims chunks of unclaimed pages, scrapes them through the worker
pool, persists the results, and marks them finished — in a loop until the
processed-page limit is reached or the process is told to stop. With --id
it processes exactly one page and exits.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			if chunkSize > 0 {
				cfg.Queue.ChunkSize = chunkSize
			}
			if limit > 0 {
				cfg.Queue.Limit = limit
			}
			return runWorker(cmd.Context(), singleID, scrapePublisher)
		},
	}

	cmd.Flags().StringVar(&singleID, "id", "", "process exactly this page id, then exit")
	cmd.Flags().IntVar(&chunkSize, "chunk", 0, "pages to claim per batch (overrides config)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many processed pages (overrides config)")
	cmd.Flags().BoolVar(&scrapePublisher, "scrape-publisher", false, "work the publisher-equivalent pool instead of the normal one")

	return cmd
}

func runWorker(parent context.Context, singleID string, scrapePublisher bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pageStore, err := openPageStore(ctx)
	if err != nil {
		return err
	}
	defer pageStore.Close()

	domainStore, err := postgres.NewDomainStore(pageStore.Pool(), cfg.DB.DomainTable)
	if err != nil {
		return fmt.Errorf("init domain store: %w", err)
	}

	clk := system.New()
	limiter := ratelimit.New(domainStore, cfg.Cooldown(), logger)
	scraper := scrape.New(scrape.Config{
		UserAgent: cfg.Scrape.UserAgent,
		Timeout:   cfg.ScrapeTimeout(),
	}, clk, logger)
	workerPool := pool.New(scraper, limiter, pool.Config{
		Workers:        cfg.Pool.Workers,
		TasksPerWorker: cfg.Pool.TasksPerWorker,
	}, logger)
	run := runner.New(pageStore, workerPool, clk, runner.Config{
		ChunkSize:     cfg.Queue.ChunkSize,
		EmptyBackoff:  cfg.EmptyBackoff(),
		Limit:         cfg.Queue.Limit,
		PublisherOnly: scrapePublisher,
	}, logger)

	if singleID != "" {
		return run.RunOne(ctx, singleID)
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(pageStore, logger)
		go func() {
			if err := srv.Serve(ctx, cfg.Server.Port); err != nil {
				logger.Error("operability server stopped", zap.Error(err))
			}
		}()
	}

	if err := run.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run queue: %w", err)
	}
	return nil
}
