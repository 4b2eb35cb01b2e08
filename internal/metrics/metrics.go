package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CrawlMetrics bundles Prometheus collectors for a crawl run. All record
// methods are nil-safe so callers can run without metrics wired.
type CrawlMetrics struct {
	Registry *prometheus.Registry

	ItemsScrapedTotal    *prometheus.CounterVec
	ItemsFailedTotal     *prometheus.CounterVec
	PagesVisitedTotal    *prometheus.CounterVec
	FieldsFilledTotal    *prometheus.CounterVec
	RetriesTotal         *prometheus.CounterVec
	SessionRestartsTotal *prometheus.CounterVec
	StallsTotal          *prometheus.CounterVec
	CheckpointSavesTotal prometheus.Counter
	ItemDuration         prometheus.Histogram
}

// NewCrawlMetrics constructs and registers all collectors on a dedicated
// registry.
func NewCrawlMetrics() *CrawlMetrics {
	registry := prometheus.NewRegistry()

	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_items_scraped_total",
			Help: "Result cards successfully scraped, by brand.",
		},
		[]string{"brand"},
	)
	itemsFailed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_items_failed_total",
			Help: "Result cards abandoned after exhausting retries, by brand.",
		},
		[]string{"brand"},
	)
	pagesVisited := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_pages_visited_total",
			Help: "Result pages opened, by brand.",
		},
		[]string{"brand"},
	)
	fieldsFilled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_fields_filled_total",
			Help: "Empty record fields filled in by later observations, by brand.",
		},
		[]string{"brand"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_retries_total",
			Help: "Retry attempts scheduled, by operation.",
		},
		[]string{"op"},
	)
	sessionRestarts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_session_restarts_total",
			Help: "Browser sessions restarted after session-level failures, by brand.",
		},
		[]string{"brand"},
	)
	stalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_stalls_total",
			Help: "Watchdog stall episodes, by brand.",
		},
		[]string{"brand"},
	)
	checkpointSaves := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_checkpoint_saves_total",
			Help: "Checkpoint files written.",
		},
	)
	itemDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawl_item_duration_seconds",
			Help:    "Wall time spent scraping a single result card.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(itemsScraped, itemsFailed, pagesVisited, fieldsFilled,
		retries, sessionRestarts, stalls, checkpointSaves, itemDuration)

	return &CrawlMetrics{
		Registry:             registry,
		ItemsScrapedTotal:    itemsScraped,
		ItemsFailedTotal:     itemsFailed,
		PagesVisitedTotal:    pagesVisited,
		FieldsFilledTotal:    fieldsFilled,
		RetriesTotal:         retries,
		SessionRestartsTotal: sessionRestarts,
		StallsTotal:          stalls,
		CheckpointSavesTotal: checkpointSaves,
		ItemDuration:         itemDuration,
	}
}

// ItemScraped counts one successfully scraped card.
func (m *CrawlMetrics) ItemScraped(brand string) {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(brand).Inc()
}

// ItemFailed counts one card abandoned after retries.
func (m *CrawlMetrics) ItemFailed(brand string) {
	if m == nil {
		return
	}
	m.ItemsFailedTotal.WithLabelValues(brand).Inc()
}

// PageVisited counts one opened results page.
func (m *CrawlMetrics) PageVisited(brand string) {
	if m == nil {
		return
	}
	m.PagesVisitedTotal.WithLabelValues(brand).Inc()
}

// FieldsFilled counts fields completed on an existing record by a merge.
func (m *CrawlMetrics) FieldsFilled(brand string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldsFilledTotal.WithLabelValues(brand).Add(float64(n))
}

// Retry counts one scheduled retry attempt for an operation.
func (m *CrawlMetrics) Retry(op string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(op).Inc()
}

// SessionRestart counts one browser session restart.
func (m *CrawlMetrics) SessionRestart(brand string) {
	if m == nil {
		return
	}
	m.SessionRestartsTotal.WithLabelValues(brand).Inc()
}

// Stall counts one watchdog stall episode.
func (m *CrawlMetrics) Stall(brand string) {
	if m == nil {
		return
	}
	m.StallsTotal.WithLabelValues(brand).Inc()
}

// CheckpointSaved counts one checkpoint write.
func (m *CrawlMetrics) CheckpointSaved() {
	if m == nil {
		return
	}
	m.CheckpointSavesTotal.Inc()
}

// ObserveItem records how long one card took to scrape.
func (m *CrawlMetrics) ObserveItem(d time.Duration) {
	if m == nil {
		return
	}
	m.ItemDuration.Observe(d.Seconds())
}
