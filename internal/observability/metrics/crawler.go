package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CrawlerMetrics contains Prometheus metrics for the aircraft metadata crawler.
type CrawlerMetrics struct {
	registry *prometheus.Registry

	lookupsTotal    *prometheus.CounterVec
	lookupDuration  *prometheus.HistogramVec
	queueDepthGauge prometheus.Gauge
	retriesTotal    *prometheus.CounterVec
	backoffGauge    *prometheus.GaugeVec
}

// NewCrawlerMetrics creates and registers new crawler metrics
func NewCrawlerMetrics(registry *prometheus.Registry) (*CrawlerMetrics, error) {
	m := &CrawlerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CrawlerMetrics) initMetrics() {
	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_lookups_total",
			Help: "Total number of aircraft metadata lookups by outcome",
		},
		[]string{"source", "status"}, // status: success, not_found, error
	)

	m.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_lookup_duration_seconds",
			Help:    "Time taken by aircraft metadata lookups",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"source"},
	)

	m.queueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Current number of aircraft waiting for metadata lookup",
		},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of lookup retries",
		},
		[]string{"source"},
	)

	m.backoffGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_backoff_seconds",
			Help: "Current backoff delay per metadata source",
		},
		[]string{"source"},
	)
}

// Describe implements the Collector interface
func (m *CrawlerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.lookupsTotal.Describe(ch)
	m.lookupDuration.Describe(ch)
	m.queueDepthGauge.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.backoffGauge.Describe(ch)
}

// Collect implements the Collector interface
func (m *CrawlerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.lookupsTotal.Collect(ch)
	m.lookupDuration.Collect(ch)
	m.queueDepthGauge.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.backoffGauge.Collect(ch)
}

// RecordLookup records one metadata lookup attempt
func (m *CrawlerMetrics) RecordLookup(source, status string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(source, status).Inc()
}

// RecordLookupDuration records the duration of one metadata lookup
func (m *CrawlerMetrics) RecordLookupDuration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.lookupDuration.WithLabelValues(source).Observe(seconds)
}

// UpdateQueueDepth sets the current crawl queue depth
func (m *CrawlerMetrics) UpdateQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepthGauge.Set(float64(depth))
}

// RecordRetry records one lookup retry
func (m *CrawlerMetrics) RecordRetry(source string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(source).Inc()
}

// UpdateBackoff sets the current backoff delay for a source
func (m *CrawlerMetrics) UpdateBackoff(source string, seconds float64) {
	if m == nil {
		return
	}
	m.backoffGauge.WithLabelValues(source).Set(seconds)
}
