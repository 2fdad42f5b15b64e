// Package queue defines core types shared across the green-OA scrape queue.
package queue

import (
	"net/url"
	"strings"
	"time"
)

// Page is one unit of work: a harvested repository page to scrape for
// green-OA evidence. The scrape_* columns are overwritten on completion.
type Page struct {
	ID       string     `json:"id" db:"id"`
	URL      string     `json:"url" db:"url"`
	PmhID    *string    `json:"pmh_id,omitempty" db:"pmh_id"`
	Rand     float64    `json:"-" db:"rand"`
	Started  *time.Time `json:"started,omitempty" db:"started"`
	Finished *time.Time `json:"finished,omitempty" db:"finished"`

	ScrapeUpdated     *time.Time `json:"scrape_updated,omitempty" db:"scrape_updated"`
	ScrapePdfURL      *string    `json:"scrape_pdf_url,omitempty" db:"scrape_pdf_url"`
	ScrapeMetadataURL *string    `json:"scrape_metadata_url,omitempty" db:"scrape_metadata_url"`
	ScrapeLicense     *string    `json:"scrape_license,omitempty" db:"scrape_license"`
	ScrapeVersion     *string    `json:"scrape_version,omitempty" db:"scrape_version"`
	ScrapeError       *string    `json:"error,omitempty" db:"error"`
}

// InFlight reports whether the page is currently claimed by a worker:
// started set, finished not yet set.
func (p Page) InFlight() bool {
	return p.Started != nil && p.Finished == nil
}

// Domain returns the lowercase host of the page URL, used as the rate
// limiter key. Falls back to "unknown" for unparseable URLs so a broken
// row still serializes behind a single slot instead of skipping the
// limiter entirely.
func (p Page) Domain() string {
	u, err := url.Parse(p.URL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Status is a point-in-time breakdown of the queue, for operators.
type Status struct {
	Total         int64 `json:"total"`
	Unclaimed     int64 `json:"unclaimed"`
	InFlight      int64 `json:"in_flight"`
	Finished      int64 `json:"finished"`
	PublisherPool int64 `json:"publisher_pool"`
}
