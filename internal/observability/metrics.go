// Package observability provides Prometheus metrics and the telemetry
// endpoint for monitoring the application.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyspy/flightradar-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Tracker   *metrics.TrackerMetrics
	Radar     *metrics.RadarMetrics
	Datastore *metrics.DatastoreMetrics
	Crawler   *metrics.CrawlerMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric
// collectors. It returns an error if any collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	trackerMetrics, err := metrics.NewTrackerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker metrics: %w", err)
	}

	radarMetrics, err := metrics.NewRadarMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create radar metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	crawlerMetrics, err := metrics.NewCrawlerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create crawler metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Tracker:   trackerMetrics,
		Radar:     radarMetrics,
		Datastore: datastoreMetrics,
		Crawler:   crawlerMetrics,
	}, nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

// metricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
