// Package metrics provides Prometheus metric collectors for the application
// components, one file per instrumented subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrackerMetrics contains Prometheus metrics for the flight tracking engine.
type TrackerMetrics struct {
	registry *prometheus.Registry

	// Update cycle metrics
	updateCyclesTotal   *prometheus.CounterVec
	updateCycleDuration prometheus.Histogram

	// Identity resolution metrics
	flightsCreatedTotal prometheus.Counter
	flightsUpdatedTotal prometheus.Counter

	// Deduplication metrics
	positionsInsertedTotal prometheus.Counter
	positionsDedupedTotal  prometheus.Counter
	hashCacheSize          prometheus.Gauge
	hashCacheResetsTotal   prometheus.Counter

	// Notification metrics
	notificationsTotal  *prometheus.CounterVec
	subscriberGauge     prometheus.Gauge
	subscriberDropTotal prometheus.Counter

	// Retention metrics
	flightsSweptTotal prometheus.Counter
}

// NewTrackerMetrics creates and registers new tracker metrics
func NewTrackerMetrics(registry *prometheus.Registry) (*TrackerMetrics, error) {
	m := &TrackerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TrackerMetrics) initMetrics() {
	m.updateCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_update_cycles_total",
			Help: "Total number of update cycles by outcome",
		},
		[]string{"status"}, // status: success, skipped, empty, error
	)

	m.updateCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_update_cycle_duration_seconds",
			Help:    "Time taken to run one full update cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	m.flightsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_flights_created_total",
			Help: "Total number of new flight legs created",
		},
	)

	m.flightsUpdatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_flights_updated_total",
			Help: "Total number of flight leg continuation updates",
		},
	)

	m.positionsInsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_positions_inserted_total",
			Help: "Total number of position rows written",
		},
	)

	m.positionsDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_positions_deduplicated_total",
			Help: "Total number of position reports suppressed as duplicates",
		},
	)

	m.hashCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_position_hash_cache_entries",
			Help: "Current number of entries in the position hash cache",
		},
	)

	m.hashCacheResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_position_hash_cache_resets_total",
			Help: "Total number of wholesale position hash cache resets",
		},
	)

	m.notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_notifications_total",
			Help: "Total number of subscriber notification deliveries by outcome",
		},
		[]string{"status"}, // status: success, error
	)

	m.subscriberGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_subscribers",
			Help: "Current number of registered notification subscribers",
		},
	)

	m.subscriberDropTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_subscribers_dropped_total",
			Help: "Total number of subscribers removed after delivery failures",
		},
	)

	m.flightsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracker_flights_swept_total",
			Help: "Total number of flights purged by the retention sweeper",
		},
	)
}

// Describe implements the Collector interface
func (m *TrackerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.updateCyclesTotal.Describe(ch)
	m.updateCycleDuration.Describe(ch)
	m.flightsCreatedTotal.Describe(ch)
	m.flightsUpdatedTotal.Describe(ch)
	m.positionsInsertedTotal.Describe(ch)
	m.positionsDedupedTotal.Describe(ch)
	m.hashCacheSize.Describe(ch)
	m.hashCacheResetsTotal.Describe(ch)
	m.notificationsTotal.Describe(ch)
	m.subscriberGauge.Describe(ch)
	m.subscriberDropTotal.Describe(ch)
	m.flightsSweptTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *TrackerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.updateCyclesTotal.Collect(ch)
	m.updateCycleDuration.Collect(ch)
	m.flightsCreatedTotal.Collect(ch)
	m.flightsUpdatedTotal.Collect(ch)
	m.positionsInsertedTotal.Collect(ch)
	m.positionsDedupedTotal.Collect(ch)
	m.hashCacheSize.Collect(ch)
	m.hashCacheResetsTotal.Collect(ch)
	m.notificationsTotal.Collect(ch)
	m.subscriberGauge.Collect(ch)
	m.subscriberDropTotal.Collect(ch)
	m.flightsSweptTotal.Collect(ch)
}

// RecordUpdateCycle records the outcome of one update cycle
func (m *TrackerMetrics) RecordUpdateCycle(status string) {
	if m == nil {
		return
	}
	m.updateCyclesTotal.WithLabelValues(status).Inc()
}

// RecordUpdateCycleDuration records the duration of one update cycle
func (m *TrackerMetrics) RecordUpdateCycleDuration(seconds float64) {
	if m == nil {
		return
	}
	m.updateCycleDuration.Observe(seconds)
}

// RecordFlightsCreated records newly created flight legs
func (m *TrackerMetrics) RecordFlightsCreated(count int) {
	if m == nil {
		return
	}
	m.flightsCreatedTotal.Add(float64(count))
}

// RecordFlightsUpdated records flight leg continuation updates
func (m *TrackerMetrics) RecordFlightsUpdated(count int) {
	if m == nil {
		return
	}
	m.flightsUpdatedTotal.Add(float64(count))
}

// RecordPositionsInserted records written position rows
func (m *TrackerMetrics) RecordPositionsInserted(count int) {
	if m == nil {
		return
	}
	m.positionsInsertedTotal.Add(float64(count))
}

// RecordPositionsDeduplicated records suppressed duplicate reports
func (m *TrackerMetrics) RecordPositionsDeduplicated(count int) {
	if m == nil {
		return
	}
	m.positionsDedupedTotal.Add(float64(count))
}

// UpdateHashCacheSize sets the current hash cache entry count
func (m *TrackerMetrics) UpdateHashCacheSize(size int) {
	if m == nil {
		return
	}
	m.hashCacheSize.Set(float64(size))
}

// RecordHashCacheReset records a wholesale hash cache reset
func (m *TrackerMetrics) RecordHashCacheReset() {
	if m == nil {
		return
	}
	m.hashCacheResetsTotal.Inc()
}

// RecordNotification records one subscriber delivery attempt
func (m *TrackerMetrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

// UpdateSubscriberCount sets the current subscriber count
func (m *TrackerMetrics) UpdateSubscriberCount(count int) {
	if m == nil {
		return
	}
	m.subscriberGauge.Set(float64(count))
}

// RecordSubscriberDropped records a subscriber removed after a failure
func (m *TrackerMetrics) RecordSubscriberDropped() {
	if m == nil {
		return
	}
	m.subscriberDropTotal.Inc()
}

// RecordFlightsSwept records flights purged by the retention sweeper
func (m *TrackerMetrics) RecordFlightsSwept(count int) {
	if m == nil {
		return
	}
	m.flightsSweptTotal.Add(float64(count))
}
