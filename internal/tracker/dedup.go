package tracker

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
	"github.com/skyspy/flightradar-go/internal/radar"
)

// cachedFlightWindow bounds how old a cached position may be to still count
// as a current flight.
const cachedFlightWindow = time.Minute

// CachedPosition is the last known position of one flight, kept in memory
// for the live view and for duplicate suppression.
type CachedPosition struct {
	ICAO24    string
	Callsign  string
	Lat       float64
	Lon       float64
	Alt       *int
	Track     *float64
	Timestamp time.Time
}

// PositionDeduplicator suppresses redundant position writes and maintains
// the current-positions view. The recent-hash set is capacity bounded and
// reset wholesale once the cap is exceeded, trading an approximate
// de-duplication guarantee for O(1) memory.
type PositionDeduplicator struct {
	mu sync.RWMutex

	ds        datastore.Interface
	batchSize int
	cacheCap  int
	metrics   *metrics.TrackerMetrics
	now       func() time.Time

	hashes     map[uint64]struct{}
	lastPos    map[uint]CachedPosition
	changedIDs map[uint]struct{}
}

// NewPositionDeduplicator creates a deduplicator with empty caches.
func NewPositionDeduplicator(ds datastore.Interface, batchSize, cacheCap int, m *metrics.TrackerMetrics) *PositionDeduplicator {
	if batchSize <= 0 {
		batchSize = 200
	}
	if cacheCap <= 0 {
		cacheCap = 150000
	}
	return &PositionDeduplicator{
		ds:         ds,
		batchSize:  batchSize,
		cacheCap:   cacheCap,
		metrics:    m,
		now:        time.Now,
		hashes:     make(map[uint64]struct{}),
		lastPos:    make(map[uint]CachedPosition),
		changedIDs: make(map[uint]struct{}),
	}
}

// positionHash fingerprints a position by its coordinates rounded to five
// decimals plus altitude. A missing altitude is encoded with its own
// presence byte so it can never collide with any numeric value.
func positionHash(lat, lon float64, alt *int) uint64 {
	var buf [25]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(int64(math.Round(lat*1e5))))
	binary.BigEndian.PutUint64(buf[8:16], uint64(int64(math.Round(lon*1e5))))
	if alt != nil {
		buf[16] = 1
		binary.BigEndian.PutUint64(buf[17:25], uint64(int64(*alt)))
	}
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// SeedLastPosition warms the current-positions cache during startup.
func (d *PositionDeduplicator) SeedLastPosition(flightID uint, flight *datastore.Flight, pos *datastore.Position) {
	d.mu.Lock()
	d.lastPos[flightID] = CachedPosition{
		ICAO24:    flight.ICAO24,
		Callsign:  flight.Callsign,
		Lat:       pos.Lat,
		Lon:       pos.Lon,
		Alt:       pos.Alt,
		Track:     pos.Track,
		Timestamp: pos.Timestamp,
	}
	d.mu.Unlock()
}

// ClearChanges resets the per-cycle change tracking.
func (d *PositionDeduplicator) ClearChanges() {
	d.mu.Lock()
	d.changedIDs = make(map[uint]struct{})
	d.mu.Unlock()
}

// HasChanges reports whether any flight position changed this cycle.
func (d *PositionDeduplicator) HasChanges() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.changedIDs) > 0
}

// ChangedFlightIDs returns a copy of the flights whose position changed
// this cycle.
func (d *PositionDeduplicator) ChangedFlightIDs() map[uint]struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	changed := make(map[uint]struct{}, len(d.changedIDs))
	for id := range d.changedIDs {
		changed[id] = struct{}{}
	}
	return changed
}

// Evict removes purged flights from the position cache.
func (d *PositionDeduplicator) Evict(flightIDs []uint) {
	d.mu.Lock()
	for _, id := range flightIDs {
		delete(d.lastPos, id)
		delete(d.changedIDs, id)
	}
	d.mu.Unlock()
}

// HashCacheSize returns the current recent-hash set size.
func (d *PositionDeduplicator) HashCacheSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hashes)
}

// AddPositions writes the non-duplicate positions of one cycle in batches.
// Caches and the changed-set are only touched after the corresponding store
// write succeeded, so a failed cycle leaves them consistent.
func (d *PositionDeduplicator) AddPositions(reports []radar.PositionReport, resolver *FlightIdentityResolver) error {
	if len(reports) == 0 {
		return nil
	}

	now := d.now().UTC()
	deduped := 0

	type pending struct {
		flightID uint
		hash     uint64
		pos      CachedPosition
	}

	accepted := make([]pending, 0, len(reports))

	d.mu.RLock()
	for i := range reports {
		report := &reports[i]
		if !report.HasPosition() {
			continue
		}
		flightID, ok := resolver.FlightID(report.ICAO24)
		if !ok {
			continue
		}

		hash := positionHash(*report.Lat, *report.Lon, report.Alt)
		if _, dup := d.hashes[hash]; dup {
			deduped++
			continue
		}
		if last, ok := d.lastPos[flightID]; ok {
			if positionHash(last.Lat, last.Lon, last.Alt) == hash {
				deduped++
				continue
			}
		}

		accepted = append(accepted, pending{
			flightID: flightID,
			hash:     hash,
			pos: CachedPosition{
				ICAO24:    report.ICAO24,
				Callsign:  report.Callsign,
				Lat:       *report.Lat,
				Lon:       *report.Lon,
				Alt:       report.Alt,
				Track:     report.Track,
				Timestamp: now,
			},
		})
	}
	d.mu.RUnlock()

	d.metrics.RecordPositionsDeduplicated(deduped)
	if len(accepted) == 0 {
		return nil
	}

	// One position row per flight per cycle; a later report for the same
	// flight in one batch replaces the earlier one.
	byFlight := make(map[uint]int, len(accepted))
	rows := make([]datastore.Position, 0, len(accepted))
	contacts := make([]datastore.ContactUpdate, 0, len(accepted))
	unique := accepted[:0]
	for _, p := range accepted {
		if idx, dup := byFlight[p.flightID]; dup {
			rows[idx] = positionRow(p.flightID, &p.pos)
			unique[idx] = p
			continue
		}
		byFlight[p.flightID] = len(rows)
		rows = append(rows, positionRow(p.flightID, &p.pos))
		contacts = append(contacts, datastore.ContactUpdate{FlightID: p.flightID, LastContact: now})
		unique = append(unique, p)
	}

	for start := 0; start < len(rows); start += d.batchSize {
		end := min(start+d.batchSize, len(rows))
		if err := d.ds.InsertPositions(rows[start:end]); err != nil {
			return err
		}
	}
	if err := d.ds.BulkUpdateLastContacts(contacts); err != nil {
		return err
	}

	d.mu.Lock()
	for i := range unique {
		p := &unique[i]
		d.hashes[p.hash] = struct{}{}
		d.lastPos[p.flightID] = p.pos
		d.changedIDs[p.flightID] = struct{}{}
		resolver.Touch(p.flightID, now)
	}
	if len(d.hashes) > d.cacheCap {
		d.hashes = make(map[uint64]struct{})
		d.metrics.RecordHashCacheReset()
	}
	cacheSize := len(d.hashes)
	d.mu.Unlock()

	d.metrics.RecordPositionsInserted(len(rows))
	d.metrics.UpdateHashCacheSize(cacheSize)
	return nil
}

func positionRow(flightID uint, pos *CachedPosition) datastore.Position {
	return datastore.Position{
		FlightID:  flightID,
		Lat:       pos.Lat,
		Lon:       pos.Lon,
		Alt:       pos.Alt,
		Track:     pos.Track,
		Timestamp: pos.Timestamp,
	}
}

// GetCachedFlights returns the flights with a position seen within the last
// minute, keyed by flight id. Readers get a snapshot that may be up to one
// cycle stale.
func (d *PositionDeduplicator) GetCachedFlights(resolver *FlightIdentityResolver) map[uint]CachedPosition {
	cutoff := d.now().UTC().Add(-cachedFlightWindow)

	result := make(map[uint]CachedPosition)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, flightID := range resolver.ActiveFlights() {
		pos, ok := d.lastPos[flightID]
		if !ok {
			continue
		}
		if last, ok := resolver.LastContact(flightID); ok && last.After(cutoff) {
			result[flightID] = pos
		}
	}
	return result
}
