package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RadarMetrics contains Prometheus metrics for radar feed polling.
type RadarMetrics struct {
	registry *prometheus.Registry

	pollsTotal      *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	reportsReceived *prometheus.CounterVec
	feedAliveGauge  *prometheus.GaugeVec
}

// NewRadarMetrics creates and registers new radar metrics
func NewRadarMetrics(registry *prometheus.Registry) (*RadarMetrics, error) {
	m := &RadarMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RadarMetrics) initMetrics() {
	m.pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_polls_total",
			Help: "Total number of feed poll attempts by outcome",
		},
		[]string{"service", "status"}, // status: success, error
	)

	m.pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radar_poll_duration_seconds",
			Help:    "Time taken to poll the radar feed",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"service"},
	)

	m.reportsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_reports_received_total",
			Help: "Total number of position reports received from the feed",
		},
		[]string{"service"},
	)

	m.feedAliveGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "radar_feed_alive",
			Help: "Whether the last feed poll succeeded (1) or failed (0)",
		},
		[]string{"service"},
	)
}

// Describe implements the Collector interface
func (m *RadarMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.pollsTotal.Describe(ch)
	m.pollDuration.Describe(ch)
	m.reportsReceived.Describe(ch)
	m.feedAliveGauge.Describe(ch)
}

// Collect implements the Collector interface
func (m *RadarMetrics) Collect(ch chan<- prometheus.Metric) {
	m.pollsTotal.Collect(ch)
	m.pollDuration.Collect(ch)
	m.reportsReceived.Collect(ch)
	m.feedAliveGauge.Collect(ch)
}

// RecordPoll records one feed poll attempt
func (m *RadarMetrics) RecordPoll(service, status string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(service, status).Inc()
}

// RecordPollDuration records the duration of one feed poll
func (m *RadarMetrics) RecordPollDuration(service string, seconds float64) {
	if m == nil {
		return
	}
	m.pollDuration.WithLabelValues(service).Observe(seconds)
}

// RecordReportsReceived records received position reports
func (m *RadarMetrics) RecordReportsReceived(service string, count int) {
	if m == nil {
		return
	}
	m.reportsReceived.WithLabelValues(service).Add(float64(count))
}

// UpdateFeedAlive sets the feed liveness gauge
func (m *RadarMetrics) UpdateFeedAlive(service string, alive bool) {
	if m == nil {
		return
	}
	v := 0.0
	if alive {
		v = 1.0
	}
	m.feedAliveGauge.WithLabelValues(service).Set(v)
}
