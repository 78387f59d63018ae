// Package tracker implements the real-time ingestion engine: flight leg
// identity resolution, position deduplication, change notification and
// retention sweeping, coordinated into one update cycle.
package tracker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/errors"
	"github.com/skyspy/flightradar-go/internal/logging"
	"github.com/skyspy/flightradar-go/internal/modes"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
	"github.com/skyspy/flightradar-go/internal/radar"
)

var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("tracker")
}

const initPageSize = 100

// FlightIdentityResolver decides, for every incoming position report,
// whether it continues a known flight leg or starts a new one, and persists
// the outcome. It keeps process-local caches of the active legs which are
// rebuilt from the datastore on startup.
type FlightIdentityResolver struct {
	mu sync.RWMutex

	ds           datastore.Interface
	milRanges    *modes.Lookup
	milOnly      bool
	continuation time.Duration
	retention    time.Duration
	batchSize    int
	metrics      *metrics.TrackerMetrics
	now          func() time.Time

	icaoFlightID map[string]uint
	lastContact  map[uint]time.Time
	callsigns    map[uint]string
}

// NewFlightIdentityResolver creates a resolver with empty caches.
func NewFlightIdentityResolver(ds datastore.Interface, milRanges *modes.Lookup, milOnly bool, continuationMinutes, retentionMinutes, batchSize int, m *metrics.TrackerMetrics) *FlightIdentityResolver {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &FlightIdentityResolver{
		ds:           ds,
		milRanges:    milRanges,
		milOnly:      milOnly,
		continuation: time.Duration(continuationMinutes) * time.Minute,
		retention:    time.Duration(retentionMinutes) * time.Minute,
		batchSize:    batchSize,
		metrics:      m,
		now:          time.Now,
		icaoFlightID: make(map[string]uint),
		lastContact:  make(map[uint]time.Time),
		callsigns:    make(map[uint]string),
	}
}

// InitializeFromStore rebuilds the identity caches from flights whose last
// contact lies within the continuation threshold, paging through the store.
// The seedPosition callback receives each flight's last known position so
// the caller can warm its own cache.
func (r *FlightIdentityResolver) InitializeFromStore(seedPosition func(flightID uint, flight *datastore.Flight, pos *datastore.Position)) error {
	threshold := r.thresholdTimestamp()
	serviceLogger.Info("loading flights from store", "newer_than", threshold)

	var afterID uint
	totalLoaded := 0

	for {
		page, err := r.ds.GetRecentFlightsWithLastPosition(threshold, initPageSize, afterID)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].Flight.ID

		r.mu.Lock()
		for i := range page {
			flight := &page[i].Flight
			r.icaoFlightID[flight.ICAO24] = flight.ID
			r.lastContact[flight.ID] = flight.LastContact
			if cs := normalizeCallsign(flight.Callsign); cs != "" {
				r.callsigns[flight.ID] = cs
			}
			totalLoaded++
		}
		r.mu.Unlock()

		if seedPosition != nil {
			for i := range page {
				if page[i].Position != nil {
					seedPosition(page[i].Flight.ID, &page[i].Flight, page[i].Position)
				}
			}
		}

		if len(page) < initPageSize {
			break
		}
		serviceLogger.Debug("loading flights from store", "loaded", totalLoaded)
	}

	serviceLogger.Info("identity cache initialized", "flights", totalLoaded)
	return nil
}

func (r *FlightIdentityResolver) thresholdTimestamp() time.Time {
	return r.now().UTC().Add(-r.continuation)
}

// normalizeCallsign trims and upper-cases a callsign for comparison.
func normalizeCallsign(cs string) string {
	return strings.ToUpper(strings.TrimSpace(cs))
}

// FlightID returns the cached flight id for an address, if any.
func (r *FlightIdentityResolver) FlightID(icao24 string) (uint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.icaoFlightID[icao24]
	return id, ok
}

// LastContact returns the cached last contact timestamp for a flight.
func (r *FlightIdentityResolver) LastContact(flightID uint) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.lastContact[flightID]
	return ts, ok
}

// Touch bumps the cached last contact timestamp for a flight.
func (r *FlightIdentityResolver) Touch(flightID uint, ts time.Time) {
	r.mu.Lock()
	r.lastContact[flightID] = ts
	r.mu.Unlock()
}

// ActiveFlights returns a snapshot of the address to flight id cache.
func (r *FlightIdentityResolver) ActiveFlights() map[string]uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]uint, len(r.icaoFlightID))
	for k, v := range r.icaoFlightID {
		snapshot[k] = v
	}
	return snapshot
}

// Evict removes purged flights from the identity caches.
func (r *FlightIdentityResolver) Evict(flights []datastore.Flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range flights {
		if id, ok := r.icaoFlightID[flights[i].ICAO24]; ok && id == flights[i].ID {
			delete(r.icaoFlightID, flights[i].ICAO24)
		}
		delete(r.lastContact, flights[i].ID)
		delete(r.callsigns, flights[i].ID)
	}
}

// IsMilitary reports whether an address falls into a military range.
func (r *FlightIdentityResolver) IsMilitary(icao24 string) bool {
	return r.milRanges.IsMilitary(icao24)
}

// FilterMilitaryOnly drops civilian reports when military-only tracking is on.
func (r *FlightIdentityResolver) FilterMilitaryOnly(reports []radar.PositionReport) []radar.PositionReport {
	if !r.milOnly {
		return reports
	}
	filtered := make([]radar.PositionReport, 0, len(reports))
	for i := range reports {
		if r.milRanges.IsMilitary(reports[i].ICAO24) {
			filtered = append(filtered, reports[i])
		}
	}
	return filtered
}

// ResolveBatch maps each report to a flight leg, bumping continuations and
// creating new legs, in store batches. A store error aborts the cycle and
// leaves the caches consistent with the last successful write.
func (r *FlightIdentityResolver) ResolveBatch(reports []radar.PositionReport) error {
	if len(reports) == 0 {
		return nil
	}

	reportByICAO := make(map[string]*radar.PositionReport, len(reports))
	for i := range reports {
		reportByICAO[reports[i].ICAO24] = &reports[i]
	}

	now := r.now().UTC()
	threshold := now.Add(-r.continuation)

	var inserted, updated []legEvent
	for start := 0; start < len(reports); start += r.batchSize {
		end := min(start+r.batchSize, len(reports))
		if err := r.processBatch(reports[start:end], reportByICAO, threshold, now, &inserted, &updated); err != nil {
			return err
		}
	}

	logLegEvents("aircraftEvent=insert", inserted)
	logLegEvents("aircraftEvent=update", updated)
	r.metrics.RecordFlightsCreated(len(inserted))
	r.metrics.RecordFlightsUpdated(len(updated))
	return nil
}

type legEvent struct {
	icao24   string
	callsign string
}

func logLegEvents(event string, events []legEvent) {
	if len(events) == 0 {
		return
	}
	const sample = 5
	parts := make([]string, 0, sample)
	for i, ev := range events {
		if i == sample {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (cs=%s)", ev.icao24, ev.callsign))
	}
	msg := strings.Join(parts, ", ")
	if len(events) > sample {
		msg = fmt.Sprintf("%s and %d more", msg, len(events)-sample)
	}
	serviceLogger.Info(event, "flights", msg, "count", len(events))
}

func (r *FlightIdentityResolver) processBatch(batch []radar.PositionReport, reportByICAO map[string]*radar.PositionReport, threshold, now time.Time, inserted, updated *[]legEvent) error {
	known := make([]string, 0, len(batch))
	unknown := make([]string, 0)
	seen := make(map[string]struct{}, len(batch))

	r.mu.RLock()
	for i := range batch {
		addr := batch[i].ICAO24
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		flightID, cached := r.icaoFlightID[addr]
		if !cached {
			unknown = append(unknown, addr)
			continue
		}
		last, hasContact := r.lastContact[flightID]
		if !hasContact || !last.After(threshold) {
			unknown = append(unknown, addr)
			continue
		}
		if r.callsignConflictLocked(flightID, reportByICAO[addr]) {
			unknown = append(unknown, addr)
			continue
		}
		known = append(known, addr)
	}
	r.mu.RUnlock()

	expireAt := r.expireTimestamp(now)

	updates := make([]datastore.FlightUpdate, 0, len(known))
	type cacheUpdate struct {
		addr     string
		flightID uint
		callsign string
	}
	pendingCache := make([]cacheUpdate, 0, len(known))

	for _, addr := range known {
		flightID, _ := r.FlightID(addr)
		report := reportByICAO[addr]
		update := datastore.FlightUpdate{
			FlightID:    flightID,
			LastContact: &now,
			ExpireAt:    expireAt,
		}

		newCS := normalizeCallsign(report.Callsign)
		r.mu.RLock()
		cachedCS := r.callsigns[flightID]
		r.mu.RUnlock()
		if newCS != "" && newCS != cachedCS {
			update.Callsign = &report.Callsign
			*updated = append(*updated, legEvent{addr, report.Callsign})
		}

		updates = append(updates, update)
		pendingCache = append(pendingCache, cacheUpdate{addr, flightID, newCS})
	}

	// Unknown or stale addresses go through the store for candidate legs.
	type creation struct {
		addr     string
		callsign string
	}
	creations := make([]creation, 0)

	if len(unknown) > 0 {
		candidates, err := r.ds.GetFlightsBatch(unknown)
		if err != nil {
			return err
		}

		for _, addr := range unknown {
			report := reportByICAO[addr]
			newCS := normalizeCallsign(report.Callsign)

			match := matchCandidate(candidates[addr], newCS, threshold)
			if match == nil {
				creations = append(creations, creation{addr, report.Callsign})
				continue
			}

			update := datastore.FlightUpdate{
				FlightID:    match.ID,
				LastContact: &now,
				ExpireAt:    expireAt,
			}
			matchCS := normalizeCallsign(match.Callsign)
			if newCS != "" && newCS != matchCS {
				update.Callsign = &report.Callsign
				*updated = append(*updated, legEvent{addr, report.Callsign})
			}

			updates = append(updates, update)
			cs := newCS
			if cs == "" {
				cs = matchCS
			}
			pendingCache = append(pendingCache, cacheUpdate{addr, match.ID, cs})
		}
	}

	if len(updates) > 0 {
		if err := r.ds.BulkUpdateFlights(updates); err != nil {
			return err
		}
		r.mu.Lock()
		for _, cu := range pendingCache {
			r.icaoFlightID[cu.addr] = cu.flightID
			r.lastContact[cu.flightID] = now
			if cu.callsign != "" {
				r.callsigns[cu.flightID] = cu.callsign
			}
		}
		r.mu.Unlock()
	}

	for _, c := range creations {
		flight, err := r.ds.GetOrCreateFlight(c.addr, c.callsign, r.milRanges.IsMilitary(c.addr), expireAt)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.icaoFlightID[c.addr] = flight.ID
		r.lastContact[flight.ID] = now
		if cs := normalizeCallsign(c.callsign); cs != "" {
			r.callsigns[flight.ID] = cs
		}
		r.mu.Unlock()
		*inserted = append(*inserted, legEvent{c.addr, c.callsign})
	}

	return nil
}

// callsignConflictLocked reports whether the report carries a non-empty
// callsign conflicting with the one recorded for the flight. An empty
// callsign on either side never forces a new leg. Callers hold r.mu.
func (r *FlightIdentityResolver) callsignConflictLocked(flightID uint, report *radar.PositionReport) bool {
	newCS := normalizeCallsign(report.Callsign)
	if newCS == "" {
		return false
	}
	cachedCS := r.callsigns[flightID]
	return cachedCS != "" && cachedCS != newCS
}

// matchCandidate picks the most recent candidate leg that is still within
// the continuation threshold and whose callsign is compatible with the
// report. Candidates arrive ordered most recent contact first.
func matchCandidate(candidates []datastore.Flight, newCS string, threshold time.Time) *datastore.Flight {
	for i := range candidates {
		if !candidates[i].LastContact.After(threshold) {
			continue
		}
		dbCS := normalizeCallsign(candidates[i].Callsign)
		if newCS == "" || dbCS == "" || dbCS == newCS {
			return &candidates[i]
		}
	}
	return nil
}

func (r *FlightIdentityResolver) expireTimestamp(now time.Time) *time.Time {
	if r.retention <= 0 {
		return nil
	}
	ts := now.Add(r.retention)
	return &ts
}

// quota errors get a distinct log line so operators can tell a full store
// from a broken one.
func logStoreError(operation string, err error) {
	if errors.IsQuotaExceeded(err) {
		serviceLogger.Error("store quota exceeded", "operation", operation, "error", err)
		return
	}
	serviceLogger.Error("store operation failed", "operation", operation, "error", err)
}
