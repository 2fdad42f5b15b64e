// Package pool runs claimed batches through a bounded worker pool.
package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/metrics"
	"github.com/Impactstory/oadoi/internal/queue"
)

// DomainLimiter gates scrapes so one domain is never hit by two workers
// at once, fleet-wide.
type DomainLimiter interface {
	Acquire(ctx context.Context, domain string) error
	Release(domain string)
}

// Config controls pool sizing.
type Config struct {
	// Workers is the number of parallel scrape workers.
	Workers int
	// TasksPerWorker recycles a worker after this many pages, capping the
	// blast radius of resource leaks from the scrape collaborator over a
	// long-running pool. 0 disables recycling.
	TasksPerWorker int
}

// Pool dispatches pages to workers. Workers pull independently, one page
// per turn, so dispatch order within a batch is unspecified.
type Pool struct {
	scraper queue.Scraper
	limiter DomainLimiter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pool.
func New(scraper queue.Scraper, limiter DomainLimiter, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return &Pool{
		scraper: scraper,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// ScrapeAll runs every page in the batch through some worker and returns
// the full set of (possibly mutated) pages. This is a synchronous
// barrier, not a streaming interface: it returns only once every page
// has come back, successes and failures alike.
func (p *Pool) ScrapeAll(ctx context.Context, pages []queue.Page) []queue.Page {
	if len(pages) == 0 {
		return nil
	}

	jobs := make(chan queue.Page)
	results := make(chan queue.Page, len(pages))
	var wg sync.WaitGroup

	workers := p.cfg.Workers
	if workers > len(pages) {
		workers = len(pages)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.work(ctx, fmt.Sprintf("worker-%d", i), jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for _, page := range pages {
			jobs <- page
		}
	}()

	out := make([]queue.Page, 0, len(pages))
	for range pages {
		out = append(out, <-results)
	}
	wg.Wait()
	return out
}

// work pulls pages until the jobs channel drains, handing off to a fresh
// goroutine once the recycle threshold is reached.
func (p *Pool) work(
	ctx context.Context,
	name string,
	jobs <-chan queue.Page,
	results chan<- queue.Page,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	handled := 0
	for page := range jobs {
		metrics.IncActiveWorkers()
		results <- p.scrapeOne(ctx, name, page)
		metrics.DecActiveWorkers()

		handled++
		if p.cfg.TasksPerWorker > 0 && handled >= p.cfg.TasksPerWorker {
			wg.Add(1)
			go p.work(ctx, name, jobs, results, wg)
			return
		}
	}
}

// scrapeOne runs one page through the scrape collaborator inside the
// domain critical section. The slot release is deferred so every exit
// path, scrape errors and panics included, gives the domain back; a
// failed page is returned unmutated apart from its error column rather
// than dropped, so the control loop still completes it.
func (p *Pool) scrapeOne(ctx context.Context, worker string, page queue.Page) (out queue.Page) {
	out = page
	domain := page.Domain()
	logger := p.logger.With(
		zap.String("worker", worker),
		zap.String("page_id", page.ID),
		zap.String("domain", domain),
	)

	if err := p.limiter.Acquire(ctx, domain); err != nil {
		logger.Warn("domain slot not acquired", zap.Error(err))
		setScrapeError(&out, fmt.Sprintf("acquire domain slot: %v", err))
		return out
	}
	defer p.limiter.Release(domain)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scrape panicked", zap.Any("panic", r))
			setScrapeError(&out, fmt.Sprintf("scrape panicked: %v", r))
		}
	}()

	logger.Info("scraping page", zap.String("url", page.URL))
	scraped, err := p.scraper.Scrape(ctx, page)
	if err != nil {
		logger.Warn("scrape failed", zap.Error(err))
		setScrapeError(&out, err.Error())
		return out
	}
	logger.Info("finished scraping page")
	return scraped
}

func setScrapeError(page *queue.Page, msg string) {
	page.ScrapeError = &msg
}
