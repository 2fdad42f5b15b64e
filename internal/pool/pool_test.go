package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/queue"
)

// countingLimiter records acquire/release pairing per domain.
type countingLimiter struct {
	mu       sync.Mutex
	acquires map[string]int
	releases map[string]int
	inFlight map[string]int
	maxSeen  int
	err      error
}

func newCountingLimiter() *countingLimiter {
	return &countingLimiter{
		acquires: map[string]int{},
		releases: map[string]int{},
		inFlight: map[string]int{},
	}
}

func (l *countingLimiter) Acquire(_ context.Context, domain string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.acquires[domain]++
	l.inFlight[domain]++
	if l.inFlight[domain] > l.maxSeen {
		l.maxSeen = l.inFlight[domain]
	}
	return nil
}

func (l *countingLimiter) Release(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases[domain]++
	l.inFlight[domain]--
}

type funcScraper func(ctx context.Context, page queue.Page) (queue.Page, error)

func (f funcScraper) Scrape(ctx context.Context, page queue.Page) (queue.Page, error) {
	return f(ctx, page)
}

func makePages(n int) []queue.Page {
	pages := make([]queue.Page, n)
	for i := range pages {
		pages[i] = queue.Page{
			ID:  fmt.Sprintf("p%d", i),
			URL: fmt.Sprintf("http://repo%d.example.org/oai/%d", i, i),
		}
	}
	return pages
}

func pageIDs(pages []queue.Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return ids
}

func TestScrapeAllReturnsEveryPage(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	version := "submittedVersion"
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		page.ScrapeVersion = &version
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 4}, zap.NewNop())

	pages := makePages(17)
	out := p.ScrapeAll(context.Background(), pages)

	require.Len(t, out, 17)
	assert.Equal(t, pageIDs(pages), pageIDs(out))
	for _, page := range out {
		require.NotNil(t, page.ScrapeVersion)
	}
}

func TestScrapeAllEmptyBatch(t *testing.T) {
	t.Parallel()

	p := New(nil, newCountingLimiter(), Config{}, zap.NewNop())
	assert.Nil(t, p.ScrapeAll(context.Background(), nil))
}

func TestScrapeFailureIsIsolatedAndReleasesDomain(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		if page.ID == "p3" {
			return queue.Page{}, errors.New("connection reset")
		}
		now := time.Now()
		page.ScrapeUpdated = &now
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 4}, zap.NewNop())

	pages := makePages(8)
	out := p.ScrapeAll(context.Background(), pages)
	require.Len(t, out, 8)

	var failed *queue.Page
	succeeded := 0
	for i := range out {
		if out[i].ID == "p3" {
			failed = &out[i]
			continue
		}
		require.NotNil(t, out[i].ScrapeUpdated)
		succeeded++
	}
	require.NotNil(t, failed, "failing page must still come back")
	require.NotNil(t, failed.ScrapeError)
	assert.Contains(t, *failed.ScrapeError, "connection reset")
	assert.Equal(t, 7, succeeded)

	// every acquire was paired with a release, failure included
	assert.Equal(t, limiter.acquires, limiter.releases)
}

func TestScrapePanicIsRecoveredAndReleasesDomain(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		if page.ID == "p1" {
			panic("nil dereference in parser")
		}
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 2}, zap.NewNop())

	out := p.ScrapeAll(context.Background(), makePages(4))
	require.Len(t, out, 4)

	for _, page := range out {
		if page.ID == "p1" {
			require.NotNil(t, page.ScrapeError)
			assert.Contains(t, *page.ScrapeError, "scrape panicked")
		}
	}
	assert.Equal(t, limiter.acquires, limiter.releases)
}

func TestAcquireFailureMarksPageWithoutRelease(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	limiter.err = errors.New("store down")
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		t.Error("scraper must not run when the domain slot was never granted")
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 1}, zap.NewNop())

	out := p.ScrapeAll(context.Background(), makePages(1))
	require.Len(t, out, 1)
	require.NotNil(t, out[0].ScrapeError)
	assert.Empty(t, limiter.releases)
}

func TestWorkerRecyclingStillDrainsBatch(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 3, TasksPerWorker: 1}, zap.NewNop())

	out := p.ScrapeAll(context.Background(), makePages(25))
	require.Len(t, out, 25)
	assert.Equal(t, limiter.acquires, limiter.releases)
}

func TestWorkerCountCappedAtBatchSize(t *testing.T) {
	t.Parallel()

	limiter := newCountingLimiter()
	block := make(chan struct{})
	scraper := funcScraper(func(_ context.Context, page queue.Page) (queue.Page, error) {
		<-block
		return page, nil
	})
	p := New(scraper, limiter, Config{Workers: 50}, zap.NewNop())

	done := make(chan []queue.Page, 1)
	go func() { done <- p.ScrapeAll(context.Background(), makePages(2)) }()

	// give workers a moment to pick up both pages, then unblock
	time.Sleep(20 * time.Millisecond)
	close(block)

	select {
	case out := <-done:
		require.Len(t, out, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not reach the batch barrier")
	}
}
