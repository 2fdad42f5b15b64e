package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested page does not exist.
var ErrNotFound = errors.New("page not found")

// LeaseStore is the shared relational store holding the page queue. Every
// mutation is a single atomic statement; no in-process copy of a row is
// authoritative, because independent fleet members race on the same rows.
type LeaseStore interface {
	// ClaimChunk atomically selects up to chunkSize unclaimed pages from
	// the requested pool (publisher-equivalent vs normal), marks them
	// started, and returns them fully hydrated. Rows locked by concurrent
	// claimers are skipped, not awaited. Returns fewer than chunkSize
	// (possibly zero) when the pool is short.
	ClaimChunk(ctx context.Context, chunkSize int, publisherOnly bool) ([]Page, error)

	// GetPage fetches a single page by id, bypassing the claim path.
	GetPage(ctx context.Context, id string) (Page, error)

	// UpdateResults bulk-persists the scrape result columns for a batch in
	// one round trip. Must run before Complete for the same ids.
	UpdateResults(ctx context.Context, pages []Page) error

	// Complete marks pages finished (finished = now, started = null).
	// Idempotent aside from the timestamp advance.
	Complete(ctx context.Context, ids []string) error

	// Kick resets started for stuck (started-but-unfinished) pages so they
	// become claimable again. Empty ids means all stuck pages. Returns the
	// number of pages kicked. Operator action; never invoked by the loop.
	Kick(ctx context.Context, ids []string) (int64, error)

	// Status reports queue depth counts.
	Status(ctx context.Context) (Status, error)
}

// DomainStore persists per-domain scrape activity, the backing state for
// the fleet-wide rate limiter.
type DomainStore interface {
	// TryAcquire attempts, in one conditional update, to move the domain
	// from idle (or stale-active, or past-cooldown) to active. Returns
	// false without error when the domain is busy or cooling down.
	TryAcquire(ctx context.Context, domain string, cooldown time.Duration) (bool, error)

	// Release unconditionally marks the domain idle and stamps finished.
	Release(ctx context.Context, domain string) error
}

// Scraper is the external collaborator that fetches a page and fills in
// its scrape result columns. Failures leave the page unmutated; the
// caller's only obligation is releasing the domain slot regardless.
type Scraper interface {
	Scrape(ctx context.Context, page Page) (Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
