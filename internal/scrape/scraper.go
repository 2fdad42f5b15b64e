// Package scrape implements the green-OA page scraper using gocolly.
// It is the external collaborator from the queue's point of view: given
// a claimed page, fetch it and fill in the scrape result columns.
package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/queue"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Scraper implements queue.Scraper with a Colly collector per fetch.
type Scraper struct {
	cfg    Config
	clock  queue.Clock
	logger *zap.Logger
	base   *colly.Collector
}

// New builds a Scraper.
func New(cfg Config, clock queue.Clock, logger *zap.Logger) *Scraper {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "oadoi-greenscrape/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; rely on the synchronous default instead.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Scraper{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		base:   c,
	}
}

// Scrape fetches the page and extracts green-OA evidence: a fulltext PDF
// link, the landing (metadata) URL, and any recognizable license. The
// input page is returned mutated on success; on failure the error is
// returned and the page left untouched for the caller to record.
func (s *Scraper) Scrape(ctx context.Context, page queue.Page) (queue.Page, error) {
	collector := s.base.Clone()
	collector.UserAgent = s.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.cfg.Timeout)

	var (
		statusCode int
		pdfURL     string
		license    string
		fetchErr   error
	)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
	})

	// repositories commonly advertise the fulltext via Highwire meta tags
	collector.OnHTML(`meta[name="citation_pdf_url"]`, func(e *colly.HTMLElement) {
		if pdfURL == "" {
			pdfURL = e.Request.AbsoluteURL(e.Attr("content"))
		}
	})

	collector.OnHTML(`a[href]`, func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if pdfURL == "" && looksLikePdf(href) {
			pdfURL = e.Request.AbsoluteURL(href)
		}
		if license == "" {
			license = licenseFromURL(href)
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := s.visit(ctx, collector, page.URL); err != nil {
		return page, err
	}
	if fetchErr != nil {
		return page, fmt.Errorf("fetch %s: %w", page.URL, fetchErr)
	}
	if statusCode >= 400 {
		return page, fmt.Errorf("fetch %s: status %d", page.URL, statusCode)
	}

	now := s.clock.Now()
	page.ScrapeUpdated = &now
	page.ScrapeMetadataURL = strPtr(page.URL)
	page.ScrapePdfURL = nil
	page.ScrapeLicense = nil
	page.ScrapeVersion = nil
	page.ScrapeError = nil
	if pdfURL != "" {
		page.ScrapePdfURL = strPtr(pdfURL)
		// repository copies are author manuscripts unless proven otherwise
		page.ScrapeVersion = strPtr("submittedVersion")
	}
	if license != "" {
		page.ScrapeLicense = strPtr(license)
	}

	s.logger.Debug("scraped page",
		zap.String("url", page.URL),
		zap.Int("status", statusCode),
		zap.Bool("found_pdf", pdfURL != ""),
		zap.String("license", license),
	)
	return page, nil
}

// visit runs the collector in a goroutine so the blocking Visit call
// still honors context cancellation. On cancellation the goroutine is
// abandoned, not interrupted; it keeps the connection at most until the
// collector's request timeout (cfg.Timeout) fires, which bounds the
// leak.
func (s *Scraper) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func looksLikePdf(href string) bool {
	trimmed := strings.ToLower(href)
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.HasSuffix(trimmed, ".pdf")
}

// licenseFromURL normalizes a Creative Commons license URL into the
// short code stored on the page row.
func licenseFromURL(href string) string {
	lower := strings.ToLower(href)
	idx := strings.Index(lower, "creativecommons.org/licenses/")
	if idx < 0 {
		if strings.Contains(lower, "creativecommons.org/publicdomain/zero") {
			return "cc0"
		}
		return ""
	}
	rest := lower[idx+len("creativecommons.org/licenses/"):]
	code, _, _ := strings.Cut(rest, "/")
	switch code {
	case "by", "by-sa", "by-nc", "by-nd", "by-nc-sa", "by-nc-nd":
		return "cc-" + code
	default:
		return ""
	}
}

func strPtr(s string) *string {
	return &s
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
