package tracker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/logging"
	"github.com/skyspy/flightradar-go/internal/modes"
	"github.com/skyspy/flightradar-go/internal/observability"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
	"github.com/skyspy/flightradar-go/internal/radar"
)

// AircraftScheduler accepts transponder addresses for background metadata
// lookup. Implemented by the crawler.
type AircraftScheduler interface {
	ScheduleLookup(icao24s []string)
}

// UpdateCoordinator orchestrates one update cycle: fetch reports, filter,
// resolve identities, deduplicate and persist positions, notify subscribers
// and periodically sweep expired flights. At most one cycle runs at a time,
// enforced by a non-blocking lock; a tick that cannot acquire it is dropped.
type UpdateCoordinator struct {
	updateMu sync.Mutex

	settings *conf.Settings
	radarSvc radar.Service
	resolver *FlightIdentityResolver
	dedup    *PositionDeduplicator
	notifier *ChangeNotifier
	sweeper  *RetentionSweeper

	scheduler AircraftScheduler
	metrics   *observability.Metrics

	cycleCount int
	sweepEvery int
}

// NewUpdateCoordinator wires the tracking engine together from its parts.
// Metrics and scheduler may be nil.
func NewUpdateCoordinator(settings *conf.Settings, ds datastore.Interface, radarSvc radar.Service, milRanges *modes.Lookup, scheduler AircraftScheduler, obs *observability.Metrics) *UpdateCoordinator {
	t := settings.Tracker

	if settings.Main.Log.Enabled {
		fileLogger, _, err := logging.NewFileLogger(settings.Main.Log.Path, "tracker", slog.LevelInfo)
		if err != nil {
			serviceLogger.Warn("Failed to open tracker log file, keeping default output",
				"path", settings.Main.Log.Path, "error", err)
		} else {
			serviceLogger = fileLogger
			serviceLogger.Info("Tracker log file opened", "path", settings.Main.Log.Path)
		}
	}

	var tm *metrics.TrackerMetrics
	if obs != nil {
		tm = obs.Tracker
	}

	resolver := NewFlightIdentityResolver(ds, milRanges, t.MilitaryOnly, t.ContinuationMinutes, t.RetentionMinutes, t.BatchSize, tm)
	dedup := NewPositionDeduplicator(ds, t.BatchSize, t.HashCacheCap, tm)
	notifier := NewChangeNotifier(tm)
	sweeper := NewRetentionSweeper(ds, t.RetentionMinutes, t.BatchSize, tm)

	sweepEvery := t.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = 10
	}

	return &UpdateCoordinator{
		settings:   settings,
		radarSvc:   radarSvc,
		resolver:   resolver,
		dedup:      dedup,
		notifier:   notifier,
		sweeper:    sweeper,
		scheduler:  scheduler,
		metrics:    obs,
		sweepEvery: sweepEvery,
	}
}

// Initialize rebuilds the in-memory caches from the datastore.
func (u *UpdateCoordinator) Initialize() error {
	return u.resolver.InitializeFromStore(u.dedup.SeedLastPosition)
}

// IsServiceAlive reports whether the radar feed responded to the last poll.
func (u *UpdateCoordinator) IsServiceAlive() bool {
	return u.radarSvc.IsAlive()
}

// RegisterSubscriber adds a change notification subscriber.
func (u *UpdateCoordinator) RegisterSubscriber(cb SubscriberCallback) uuid.UUID {
	return u.notifier.RegisterCallback(cb)
}

// UnregisterSubscriber removes a change notification subscriber.
func (u *UpdateCoordinator) UnregisterSubscriber(handle uuid.UUID) bool {
	return u.notifier.UnregisterCallback(handle)
}

// GetCachedFlights returns the current live view: every tracked flight with
// a position seen within the last minute. The snapshot may be up to one
// cycle stale.
func (u *UpdateCoordinator) GetCachedFlights() map[uint]CachedPosition {
	return u.dedup.GetCachedFlights(u.resolver)
}

// Update runs one cycle. A cycle already in progress drops this tick
// entirely; nothing is queued. Unexpected panics are caught and logged so
// one bad cycle cannot stop the scheduler.
func (u *UpdateCoordinator) Update() {
	if !u.updateMu.TryLock() {
		serviceLogger.Debug("update already in progress, skipping this cycle")
		u.trackerMetrics().RecordUpdateCycle("skipped")
		return
	}
	defer u.updateMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			serviceLogger.Error("update cycle panicked", "panic", r)
			u.trackerMetrics().RecordUpdateCycle("error")
		}
		u.trackerMetrics().RecordUpdateCycleDuration(time.Since(start).Seconds())
	}()

	u.dedup.ClearChanges()

	reports := u.poll()
	if len(reports) == 0 {
		u.trackerMetrics().RecordUpdateCycle("empty")
		u.maybeSweep()
		return
	}

	if u.scheduler != nil && u.settings.Tracker.CrawlUnknown {
		addrs := make([]string, 0, len(reports))
		for i := range reports {
			if reports[i].ICAO24 != "" {
				addrs = append(addrs, reports[i].ICAO24)
			}
		}
		u.scheduler.ScheduleLookup(addrs)
	}

	filtered := u.resolver.FilterMilitaryOnly(reports)
	if len(filtered) == 0 {
		u.trackerMetrics().RecordUpdateCycle("empty")
		u.maybeSweep()
		return
	}

	if err := u.resolver.ResolveBatch(filtered); err != nil {
		logStoreError("resolve_flights", err)
		u.trackerMetrics().RecordUpdateCycle("error")
		return
	}

	valid := filtered[:0:0]
	for i := range filtered {
		if filtered[i].HasPosition() {
			valid = append(valid, filtered[i])
		}
	}
	if err := u.dedup.AddPositions(valid, u.resolver); err != nil {
		logStoreError("add_positions", err)
		u.trackerMetrics().RecordUpdateCycle("error")
		return
	}

	if u.notifier.HasSubscribers() && u.dedup.HasChanges() {
		u.notifier.NotifyPositionChanges(u.GetCachedFlights(), u.dedup.ChangedFlightIDs())
	}

	u.maybeSweep()
	u.trackerMetrics().RecordUpdateCycle("success")
}

// poll fetches one batch of reports from the feed. Failures are logged and
// treated as an empty batch; the next tick retries.
func (u *UpdateCoordinator) poll() []radar.PositionReport {
	service := u.settings.Radar.Type
	start := time.Now()
	reports, err := u.radarSvc.QueryLiveFlights(u.settings.Radar.FilterIncomplete)
	u.radarMetricsRecord(service, time.Since(start), len(reports), err)
	if err != nil {
		serviceLogger.Warn("radar feed poll failed", "service", service, "error", err)
		return nil
	}
	return reports
}

func (u *UpdateCoordinator) radarMetricsRecord(service string, elapsed time.Duration, count int, err error) {
	if u.metrics == nil {
		return
	}
	rm := u.metrics.Radar
	rm.RecordPollDuration(service, elapsed.Seconds())
	if err != nil {
		rm.RecordPoll(service, "error")
	} else {
		rm.RecordPoll(service, "success")
		rm.RecordReportsReceived(service, count)
	}
	rm.UpdateFeedAlive(service, u.radarSvc.IsAlive())
}

// maybeSweep runs the retention sweeper every Nth cycle.
func (u *UpdateCoordinator) maybeSweep() {
	u.cycleCount++
	if !u.sweeper.Enabled() || u.cycleCount%u.sweepEvery != 0 {
		return
	}
	if err := u.sweeper.Sweep(u.resolver, u.dedup); err != nil {
		logStoreError("retention_sweep", err)
	}
}

func (u *UpdateCoordinator) trackerMetrics() *metrics.TrackerMetrics {
	if u.metrics == nil {
		return nil
	}
	return u.metrics.Tracker
}

// StartPolling invokes Update on a fixed interval until quitChan closes.
// Each tick runs in its own goroutine; the non-blocking lock inside Update
// keeps at most one cycle in flight.
func (u *UpdateCoordinator) StartPolling(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	interval := time.Duration(u.settings.Radar.PollInterval) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		serviceLogger.Info("update scheduler started", "interval", interval)
		for {
			select {
			case <-quitChan:
				serviceLogger.Info("update scheduler stopping")
				return
			case <-ticker.C:
				go u.Update()
			}
		}
	}()
}
