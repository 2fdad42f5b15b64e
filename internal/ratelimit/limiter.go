// Package ratelimit guarantees at most one in-flight scrape per remote
// domain across the entire fleet. Coordination happens only through the
// shared domain activity table; there is no in-process lock shared
// between fleet members, so the primitive is a conditional update wrapped
// in a polling retry loop rather than a blocking lock.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/metrics"
	"github.com/Impactstory/oadoi/internal/queue"
)

// releaseTimeout bounds the detached release call so a wedged store
// cannot hang worker shutdown forever.
const releaseTimeout = 30 * time.Second

// Limiter acquires and releases per-domain scrape slots.
type Limiter struct {
	store    queue.DomainStore
	cooldown time.Duration
	logger   *zap.Logger

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Limiter with the given cooldown interval, the minimum
// idle time a domain must observe between scrapes.
func New(store queue.DomainStore, cooldown time.Duration, logger *zap.Logger) *Limiter {
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &Limiter{
		store:    store,
		cooldown: cooldown,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until the domain slot is granted or ctx is done. There
// is no other deadline: the operation is expected to eventually succeed
// once the domain cools down or another worker finishes, and the
// half-cooldown polling granularity is the accepted latency cost. This
// wait is the system's deliberate backpressure on aggregate per-domain
// request rate, independent of how many runner processes exist.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	start := time.Now()
	for {
		granted, err := l.store.TryAcquire(ctx, domain, l.cooldown)
		if err != nil {
			return fmt.Errorf("acquire domain slot: %w", err)
		}
		if granted {
			metrics.ObserveRateLimitWait(domain, time.Since(start))
			return nil
		}

		l.logger.Debug("waiting for domain slot", zap.String("domain", domain))
		if err := l.sleep(ctx, l.cooldown/2); err != nil {
			return fmt.Errorf("acquire domain slot: %w", err)
		}
	}
}

// Release marks the domain idle. It runs on a detached context so that
// caller cancellation mid-scrape cannot skip the release and deadlock
// the domain for the staleness window. Errors are logged, not returned:
// Release is called from defers where the scrape outcome already stands.
func (l *Limiter) Release(domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := l.store.Release(ctx, domain); err != nil {
		l.logger.Error("release domain slot failed; slot reclaims after staleness window",
			zap.String("domain", domain),
			zap.Error(err),
		)
	}
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
