package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// StaleAfter is how old a domain's started stamp may be before the slot
// is treated as abandoned (holder crashed without releasing) and becomes
// reclaimable by any fleet member.
const StaleAfter = time.Hour

// DomainStore implements queue.DomainStore against the
// domain_scrape_activity table. One row per domain ever scraped, created
// lazily on first contact and never deleted.
type DomainStore struct {
	pool  Pool
	table string
}

// NewDomainStore constructs a DomainStore on an existing pool.
func NewDomainStore(pool Pool, table string) (*DomainStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "domain_scrape_activity"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DomainStore{pool: pool, table: table}, nil
}

// TryAcquire attempts to move the domain row from "idle, stale-active or
// past-cooldown" to "active" in one conditional update. The insert makes
// first contact with a domain work; ON CONFLICT DO NOTHING keeps it safe
// under races. Returns false when no row qualified, meaning another
// worker holds the slot or the domain is still cooling down.
func (s *DomainStore) TryAcquire(ctx context.Context, domain string, cooldown time.Duration) (bool, error) {
	if domain == "" {
		return false, fmt.Errorf("domain is required")
	}

	insert := fmt.Sprintf(`INSERT INTO %s (domain) VALUES ($1) ON CONFLICT (domain) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, insert, domain); err != nil {
		return false, fmt.Errorf("ensure domain row: %w", err)
	}

	acquire := fmt.Sprintf(`
WITH ready AS (
	SELECT domain
	FROM %s
	WHERE domain = $1
	  AND (started IS NULL OR started < now() - make_interval(secs => $3))
	  AND (finished IS NULL OR finished < now() - make_interval(secs => $2))
	FOR UPDATE SKIP LOCKED
)
UPDATE %s activity
SET started = now(), finished = NULL
FROM ready
WHERE ready.domain = activity.domain
RETURNING ready.domain`, s.table, s.table)

	var granted string
	err := s.pool.QueryRow(ctx, acquire, domain, cooldown.Seconds(), StaleAfter.Seconds()).Scan(&granted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("acquire domain: %w", err)
	}
	return true, nil
}

// Release unconditionally marks the domain idle and stamps finished,
// starting its cooldown window.
func (s *DomainStore) Release(ctx context.Context, domain string) error {
	query := fmt.Sprintf(`UPDATE %s SET started = NULL, finished = now() WHERE domain = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, domain); err != nil {
		return fmt.Errorf("release domain: %w", err)
	}
	return nil
}
