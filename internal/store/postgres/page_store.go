// Package postgres provides Postgres-backed persistence for the scrape queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Impactstory/oadoi/internal/queue"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const pageColumns = `id, url, pmh_id, rand, started, finished,
	scrape_updated, scrape_pdf_url, scrape_metadata_url, scrape_license, scrape_version, error`

// Pool is the subset of pgxpool.Pool the stores need. Satisfied by
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PageStoreConfig controls the connection pool and queue table used for
// page rows.
type PageStoreConfig struct {
	DSN                   string
	Table                 string
	PublisherEquivalentID string
	MaxConns              int32
	MinConns              int32
	MaxConnLifetime       time.Duration
}

// PageStore implements queue.LeaseStore against Postgres. All claim and
// completion mutations are single statements so they stay correct under
// arbitrary fleet concurrency.
type PageStore struct {
	pool        Pool
	table       string
	publisherID string
}

// NewPageStore connects a pool and returns a PageStore.
func NewPageStore(ctx context.Context, cfg PageStoreConfig) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPageStoreWithPool(pool, cfg.Table, cfg.PublisherEquivalentID)
}

// NewPageStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPageStoreWithPool(pool Pool, table, publisherID string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "page_green_scrape_queue"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if publisherID == "" {
		publisherID = "publisher"
	}
	return &PageStore{pool: pool, table: table, publisherID: publisherID}, nil
}

// Pool exposes the underlying connection pool so sibling stores can
// share it.
func (s *PageStore) Pool() Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ClaimChunk selects up to chunkSize unclaimed pages from the requested
// pool, stamps started, and returns them hydrated in claim order. The
// SKIP LOCKED select lets concurrent fleet members drain the queue
// without serializing on each other; the started stamp persists before
// return so a crash leaves the claim visible for later recovery.
func (s *PageStore) ClaimChunk(ctx context.Context, chunkSize int, publisherOnly bool) ([]queue.Page, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}

	pmhFilter := "pmh_id IS DISTINCT FROM $2"
	if publisherOnly {
		pmhFilter = "pmh_id = $2"
	}
	claimQuery := fmt.Sprintf(`
WITH claim_chunk AS (
	SELECT id
	FROM %s
	WHERE started IS NULL
	  AND %s
	ORDER BY finished ASC NULLS FIRST, started, rand
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE %s q
SET started = now()
FROM claim_chunk
WHERE claim_chunk.id = q.id
RETURNING q.id`, s.table, pmhFilter, s.table)

	rows, err := s.pool.Query(ctx, claimQuery, chunkSize, s.publisherID)
	if err != nil {
		return nil, fmt.Errorf("claim chunk: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect claimed ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.hydrate(ctx, ids)
}

// hydrate loads full rows for the claimed ids, preserving claim order.
func (s *PageStore) hydrate(ctx context.Context, ids []string) ([]queue.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, pageColumns, s.table)
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate claimed pages: %w", err)
	}
	pages, err := pgx.CollectRows(rows, pgx.RowToStructByName[queue.Page])
	if err != nil {
		return nil, fmt.Errorf("collect claimed pages: %w", err)
	}

	byID := make(map[string]queue.Page, len(pages))
	for _, p := range pages {
		byID[p.ID] = p
	}
	ordered := make([]queue.Page, 0, len(pages))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// GetPage fetches one page by id.
func (s *PageStore) GetPage(ctx context.Context, id string) (queue.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, pageColumns, s.table)
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return queue.Page{}, fmt.Errorf("get page: %w", err)
	}
	page, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[queue.Page])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return queue.Page{}, queue.ErrNotFound
		}
		return queue.Page{}, fmt.Errorf("collect page: %w", err)
	}
	return page, nil
}

// scrapeResultRow is the wire shape handed to jsonb_to_recordset for the
// bulk writeback. Only result columns cross; lease timestamps stay owned
// by the claim and completion statements.
type scrapeResultRow struct {
	ID                string     `json:"id"`
	ScrapeUpdated     *time.Time `json:"scrape_updated"`
	ScrapePdfURL      *string    `json:"scrape_pdf_url"`
	ScrapeMetadataURL *string    `json:"scrape_metadata_url"`
	ScrapeLicense     *string    `json:"scrape_license"`
	ScrapeVersion     *string    `json:"scrape_version"`
	ScrapeError       *string    `json:"error"`
}

// UpdateResults bulk-persists scrape result columns for the batch in a
// single round trip.
func (s *PageStore) UpdateResults(ctx context.Context, pages []queue.Page) error {
	if len(pages) == 0 {
		return nil
	}
	results := make([]scrapeResultRow, 0, len(pages))
	for _, p := range pages {
		results = append(results, scrapeResultRow{
			ID:                p.ID,
			ScrapeUpdated:     p.ScrapeUpdated,
			ScrapePdfURL:      p.ScrapePdfURL,
			ScrapeMetadataURL: p.ScrapeMetadataURL,
			ScrapeLicense:     p.ScrapeLicense,
			ScrapeVersion:     p.ScrapeVersion,
			ScrapeError:       p.ScrapeError,
		})
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal scrape results: %w", err)
	}

	query := fmt.Sprintf(`
UPDATE %s q
SET scrape_updated = u.scrape_updated,
	scrape_pdf_url = u.scrape_pdf_url,
	scrape_metadata_url = u.scrape_metadata_url,
	scrape_license = u.scrape_license,
	scrape_version = u.scrape_version,
	error = u.error
FROM jsonb_to_recordset($1::jsonb) AS u(
	id text,
	scrape_updated timestamptz,
	scrape_pdf_url text,
	scrape_metadata_url text,
	scrape_license text,
	scrape_version text,
	error text)
WHERE q.id = u.id`, s.table)

	if _, err := s.pool.Exec(ctx, query, payload); err != nil {
		return fmt.Errorf("bulk update scrape results: %w", err)
	}
	return nil
}

// Complete marks the pages finished in one statement. Re-running on
// already-finished ids only bumps the timestamp.
func (s *PageStore) Complete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET finished = now(), started = NULL WHERE id = ANY($1)`, s.table)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("complete pages: %w", err)
	}
	return nil
}

// Kick resets started for stuck pages so they become claimable again.
// Empty ids kicks every stuck page.
func (s *PageStore) Kick(ctx context.Context, ids []string) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if len(ids) == 0 {
		query := fmt.Sprintf(`UPDATE %s SET started = NULL WHERE started IS NOT NULL AND finished IS NULL`, s.table)
		tag, err = s.pool.Exec(ctx, query)
	} else {
		query := fmt.Sprintf(`UPDATE %s SET started = NULL WHERE id = ANY($1) AND started IS NOT NULL AND finished IS NULL`, s.table)
		tag, err = s.pool.Exec(ctx, query, ids)
	}
	if err != nil {
		return 0, fmt.Errorf("kick pages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Status reports queue depth counts in one query.
func (s *PageStore) Status(ctx context.Context) (queue.Status, error) {
	query := fmt.Sprintf(`
SELECT count(*) AS total,
	count(*) FILTER (WHERE started IS NULL) AS unclaimed,
	count(*) FILTER (WHERE started IS NOT NULL AND finished IS NULL) AS in_flight,
	count(*) FILTER (WHERE finished IS NOT NULL) AS finished,
	count(*) FILTER (WHERE pmh_id = $1) AS publisher_pool
FROM %s`, s.table)

	var st queue.Status
	err := s.pool.QueryRow(ctx, query, s.publisherID).Scan(
		&st.Total,
		&st.Unclaimed,
		&st.InFlight,
		&st.Finished,
		&st.PublisherPool,
	)
	if err != nil {
		return queue.Status{}, fmt.Errorf("queue status: %w", err)
	}
	return st, nil
}
