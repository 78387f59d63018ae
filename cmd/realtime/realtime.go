// Package realtime implements the realtime tracking command: it wires the
// radar feed, the tracker, the metadata crawler and the serving surfaces
// together and runs them until the process is signalled.
package realtime

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/crawler"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/httpcontroller"
	"github.com/skyspy/flightradar-go/internal/logging"
	"github.com/skyspy/flightradar-go/internal/modes"
	"github.com/skyspy/flightradar-go/internal/observability"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
	"github.com/skyspy/flightradar-go/internal/radar"
	"github.com/skyspy/flightradar-go/internal/tracker"
)

// Command returns the realtime tracking subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Track aircraft in realtime mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunTracking(settings)
		},
	}

	cmd.PersistentFlags().IntVar(&settings.Radar.PollInterval, "pollinterval", viper.GetInt("radar.pollinterval"), "Feed polling interval in seconds")
	cmd.PersistentFlags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Web server listen port")
	cmd.PersistentFlags().BoolVar(&settings.Tracker.CrawlUnknown, "crawlunknown", viper.GetBool("tracker.crawlunknown"), "Crawl metadata for unknown aircraft")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding flags: %v", err))
	}

	return cmd
}

// RunTracking starts all components and blocks until SIGINT or SIGTERM.
func RunTracking(settings *conf.Settings) error {
	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}

	milRanges, err := modes.NewLookup(settings.Tracker.MilRangesFile)
	if err != nil {
		return fmt.Errorf("failed to load military address ranges: %w", err)
	}

	radarSvc, err := radar.NewService(&settings.Radar)
	if err != nil {
		return fmt.Errorf("failed to create radar service: %w", err)
	}

	var obs *observability.Metrics
	var endpoint *observability.Endpoint
	if settings.Telemetry.Enabled {
		obs, err = observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		endpoint, err = observability.NewEndpoint(settings, obs)
		if err != nil {
			return fmt.Errorf("failed to create telemetry endpoint: %w", err)
		}
		ds.SetMetrics(obs.Datastore)
	}

	var crawl *crawler.Crawler
	var scheduler tracker.AircraftScheduler
	if settings.Tracker.CrawlUnknown {
		var cm *metrics.CrawlerMetrics
		if obs != nil {
			cm = obs.Crawler
		}
		crawl = crawler.New(&settings.Crawler, ds, cm)
		scheduler = crawl
	}

	coordinator := tracker.NewUpdateCoordinator(settings, ds, radarSvc, milRanges, scheduler, obs)
	if err := coordinator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize tracker: %w", err)
	}

	var wg sync.WaitGroup
	quitChan := make(chan struct{})

	coordinator.StartPolling(&wg, quitChan)
	if crawl != nil {
		crawl.Start(&wg, quitChan)
	}
	if endpoint != nil {
		endpoint.Start(&wg, quitChan)
	}
	if settings.WebServer.Enabled {
		server := httpcontroller.New(settings, ds, coordinator)
		server.Start(&wg, quitChan)
	}

	logging.Info("realtime tracking started",
		"radar", settings.Radar.Type,
		"poll_interval", settings.Radar.PollInterval,
		"military_only", settings.Tracker.MilitaryOnly)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("shutting down", "signal", sig.String())
	close(quitChan)
	wg.Wait()

	if err := ds.Close(); err != nil {
		return fmt.Errorf("failed to close datastore: %w", err)
	}
	return nil
}
