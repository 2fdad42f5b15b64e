// Package metrics exposes Prometheus collectors for the scrape queue.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesProcessedTotal  *prometheus.CounterVec
	batchesTotal         *prometheus.CounterVec
	batchDurationSeconds prometheus.Histogram
	rateLimitWaitSeconds *prometheus.HistogramVec
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenscrape_pages_processed_total",
				Help: "Total pages run through the scrape pipeline, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greenscrape_batches_total",
				Help: "Total claimed batches, labeled by commit status.",
			},
			[]string{"status"},
		)

		batchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "greenscrape_batch_duration_seconds",
				Help:    "Histogram of end-to-end batch durations (claim through complete).",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greenscrape_rate_limit_wait_seconds",
				Help:    "Histogram of time spent waiting for a domain slot.",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"domain"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "greenscrape_active_workers",
				Help: "Number of pool workers currently scraping a page.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePages adds processed pages for an outcome ("scraped" or "failed").
func ObservePages(outcome string, count int) {
	if pagesProcessedTotal == nil {
		return
	}
	pagesProcessedTotal.WithLabelValues(outcome).Add(float64(count))
}

// ObserveBatch records a finished batch and its duration.
func ObserveBatch(status string, duration time.Duration) {
	if batchesTotal == nil {
		return
	}
	batchesTotal.WithLabelValues(status).Inc()
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitWait records time spent waiting for a domain slot.
func ObserveRateLimitWait(domain string, duration time.Duration) {
	if rateLimitWaitSeconds == nil {
		return
	}
	rateLimitWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveWorkers marks a worker as busy.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers marks a worker as idle again.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
