// Package runner orchestrates the claim/scrape/persist/complete cycle.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/metrics"
	"github.com/Impactstory/oadoi/internal/queue"
)

// Dispatcher runs a claimed batch through the worker pool and returns
// once every page has been processed.
type Dispatcher interface {
	ScrapeAll(ctx context.Context, pages []queue.Page) []queue.Page
}

// Config controls the control loop.
type Config struct {
	// ChunkSize is how many pages to claim per batch.
	ChunkSize int
	// EmptyBackoff is how long to sleep when a claim comes back empty.
	EmptyBackoff time.Duration
	// Limit stops the run after this many processed pages. 0 runs forever.
	Limit int
	// PublisherOnly selects the publisher-equivalent claim pool instead
	// of the normal one.
	PublisherOnly bool
}

// Runner drives batches through the pipeline. One Runner processes
// batches sequentially: a batch's barrier completes before the next
// claim. Fleet-level parallelism comes from running more processes.
type Runner struct {
	store      queue.LeaseStore
	dispatcher Dispatcher
	clock      queue.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner.
func New(store queue.LeaseStore, dispatcher Dispatcher, clock queue.Clock, cfg Config, logger *zap.Logger) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.EmptyBackoff <= 0 {
		cfg.EmptyBackoff = 5 * time.Second
	}
	return &Runner{
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run loops until the processed-page limit is reached or ctx is done.
// Claim errors abort the run: a store that cannot hand out work is fatal
// and the operator restarts the process. Persist and complete errors are
// logged and the loop moves on; the affected batch stays in flight for a
// manual kick.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.logger.With(zap.String("run_id", uuid.NewString()))
	logger.Info("starting queue run",
		zap.Int("chunk_size", r.cfg.ChunkSize),
		zap.Int("limit", r.cfg.Limit),
		zap.Bool("publisher_pool", r.cfg.PublisherOnly),
	)

	runStart := r.clock.Now()
	processed := 0
	batches := 0

	for r.cfg.Limit <= 0 || processed < r.cfg.Limit {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("queue run stopped: %w", err)
		}

		batchStart := r.clock.Now()
		pages, err := r.store.ClaimChunk(ctx, r.cfg.ChunkSize, r.cfg.PublisherOnly)
		if err != nil {
			return fmt.Errorf("claim chunk: %w", err)
		}
		if len(pages) == 0 {
			logger.Info("queue drained, backing off", zap.Duration("backoff", r.cfg.EmptyBackoff))
			if err := sleepCtx(ctx, r.cfg.EmptyBackoff); err != nil {
				return fmt.Errorf("queue run stopped: %w", err)
			}
			continue
		}

		scraped := r.dispatcher.ScrapeAll(ctx, pages)

		if !r.commitBatch(ctx, logger, scraped, pageIDs(pages), batchStart) {
			continue
		}

		processed += len(pages)
		batches++
		countPageOutcomes(scraped)

		elapsed := r.clock.Now().Sub(runStart)
		rate := float64(processed) / maxSeconds(elapsed)
		logger.Info("batch committed",
			zap.Int("batch", batches),
			zap.Int("pages", len(pages)),
			zap.Int("processed", processed),
			zap.Duration("batch_elapsed", r.clock.Now().Sub(batchStart)),
			zap.Float64("pages_per_second", rate),
		)
	}

	logger.Info("queue run finished",
		zap.Int("processed", processed),
		zap.Duration("elapsed", r.clock.Now().Sub(runStart)),
	)
	return nil
}

// RunOne processes exactly one identified page, bypassing the batch
// claim path, then exits.
func (r *Runner) RunOne(ctx context.Context, id string) error {
	page, err := r.store.GetPage(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch page %s: %w", id, err)
	}

	scraped := r.dispatcher.ScrapeAll(ctx, []queue.Page{page})
	if err := r.store.UpdateResults(ctx, scraped); err != nil {
		return fmt.Errorf("persist page %s: %w", id, err)
	}
	if err := r.store.Complete(ctx, []string{id}); err != nil {
		return fmt.Errorf("complete page %s: %w", id, err)
	}

	r.logger.Info("single page processed", zap.String("page_id", id))
	return nil
}

// commitBatch persists scrape results then marks the batch finished, in
// that order: a crash between the two leaves results written but pages
// still claimed, which the claim filter already excludes. Reports
// whether the batch counts as processed.
func (r *Runner) commitBatch(
	ctx context.Context,
	logger *zap.Logger,
	scraped []queue.Page,
	ids []string,
	batchStart time.Time,
) bool {
	commitStart := r.clock.Now()

	if err := r.store.UpdateResults(ctx, scraped); err != nil {
		logger.Error("persist batch failed, leaving batch in flight for manual kick",
			zap.Int("pages", len(scraped)),
			zap.Error(err),
		)
		metrics.ObserveBatch("persist_failed", r.clock.Now().Sub(batchStart))
		return false
	}
	if err := r.store.Complete(ctx, ids); err != nil {
		logger.Error("complete batch failed, leaving batch in flight for manual kick",
			zap.Int("pages", len(ids)),
			zap.Error(err),
		)
		metrics.ObserveBatch("complete_failed", r.clock.Now().Sub(batchStart))
		return false
	}

	metrics.ObserveBatch("committed", r.clock.Now().Sub(batchStart))
	logger.Debug("batch commit finished", zap.Duration("commit_elapsed", r.clock.Now().Sub(commitStart)))
	return true
}

func countPageOutcomes(pages []queue.Page) {
	scrapedCount := 0
	failedCount := 0
	for _, p := range pages {
		if p.ScrapeError != nil {
			failedCount++
		} else {
			scrapedCount++
		}
	}
	metrics.ObservePages("scraped", scrapedCount)
	metrics.ObservePages("failed", failedCount)
}

func pageIDs(pages []queue.Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

func maxSeconds(d time.Duration) float64 {
	if s := d.Seconds(); s > 0 {
		return s
	}
	return 1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
