package tracker

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/modes"
	"github.com/skyspy/flightradar-go/internal/radar"
)

type fakeRadar struct {
	mu      sync.Mutex
	batches [][]radar.PositionReport
	calls   int
	err     error
}

func (f *fakeRadar) QueryLiveFlights(filterIncomplete bool) ([]radar.PositionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return batch, nil
}

func (f *fakeRadar) IsAlive() bool { return true }

func (f *fakeRadar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Radar.Type = "mm2"
	settings.Radar.URL = "http://localhost:8888"
	settings.Radar.PollInterval = 1
	settings.Tracker.ContinuationMinutes = 10
	settings.Tracker.RetentionMinutes = 60
	settings.Tracker.HashCacheCap = 150000
	settings.Tracker.BatchSize = 200
	settings.Tracker.SweepEvery = 1
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "tracker_test.db")
	return settings
}

func newTestCoordinator(t *testing.T, feed *fakeRadar) (*UpdateCoordinator, datastore.Interface) {
	t.Helper()

	settings := testSettings(t)
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	lookup, err := modes.NewLookup("")
	require.NoError(t, err)

	u := NewUpdateCoordinator(settings, ds, feed, lookup, nil, nil)
	return u, ds
}

func report(icao24, callsign string, lat, lon float64, alt int) radar.PositionReport {
	return radar.PositionReport{
		ICAO24:   icao24,
		Callsign: callsign,
		Lat:      &lat,
		Lon:      &lon,
		Alt:      &alt,
	}
}

// setClock pins the engine's notion of now across all components.
func setClock(u *UpdateCoordinator, at time.Time) {
	clock := func() time.Time { return at }
	u.resolver.now = clock
	u.dedup.now = clock
	u.sweeper.now = clock
}

func TestDuplicateReportSingleCycle(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	batch := []radar.PositionReport{
		report("4840D6", "SWR123", 47.0, 8.0, 3000),
		report("4840D6", "SWR123", 47.0, 8.0, 3000),
	}

	require.NoError(t, u.resolver.ResolveBatch(batch))
	require.NoError(t, u.dedup.AddPositions(batch, u.resolver))

	flightID, ok := u.resolver.FlightID("4840D6")
	require.True(t, ok)

	flight, err := ds.GetFlight(flightID)
	require.NoError(t, err)
	assert.Equal(t, "SWR123", flight.Callsign)

	positions, err := ds.GetFlightPositions(flightID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	changed := u.dedup.ChangedFlightIDs()
	require.Len(t, changed, 1)
	_, ok = changed[flightID]
	assert.True(t, ok)
}

func TestIdempotentReplay(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	batch := []radar.PositionReport{report("4840D6", "SWR123", 47.0, 8.0, 3000)}

	for i := 0; i < 2; i++ {
		require.NoError(t, u.resolver.ResolveBatch(batch))
		require.NoError(t, u.dedup.AddPositions(batch, u.resolver))
	}

	flightID, ok := u.resolver.FlightID("4840D6")
	require.True(t, ok)

	positions, err := ds.GetFlightPositions(flightID)
	require.NoError(t, err)
	assert.Len(t, positions, 1, "replayed batch must not write a second position")
}

func TestIdentityContinuity(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	var ids []uint
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 8 * time.Minute)
		setClock(u, at)
		batch := []radar.PositionReport{report("AABBCC", "SWR11A", 47.0+float64(i)*0.01, 8.0, 30000)}
		require.NoError(t, u.resolver.ResolveBatch(batch))
		id, ok := u.resolver.FlightID("AABBCC")
		require.True(t, ok)
		ids = append(ids, id)
	}

	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}

func TestIdentitySplitOnTime(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	setClock(u, base)
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "SWR11A", 47.0, 8.0, 30000)}))
	first, ok := u.resolver.FlightID("AABBCC")
	require.True(t, ok)

	setClock(u, base.Add(11*time.Minute))
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "SWR11A", 47.1, 8.1, 31000)}))
	second, ok := u.resolver.FlightID("AABBCC")
	require.True(t, ok)

	assert.NotEqual(t, first, second, "a reappearance after the continuation threshold starts a new leg")
}

func TestIdentitySplitOnCallsignConflict(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	setClock(u, base)
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "SWR11A", 47.0, 8.0, 30000)}))
	first, ok := u.resolver.FlightID("AABBCC")
	require.True(t, ok)

	setClock(u, base.Add(2*time.Minute))
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "DLH400", 47.0, 8.0, 30000)}))
	second, ok := u.resolver.FlightID("AABBCC")
	require.True(t, ok)

	assert.NotEqual(t, first, second, "a conflicting active callsign starts a new leg")
}

func TestEmptyCallsignNeverSplits(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	setClock(u, base)
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "SWR11A", 47.0, 8.0, 30000)}))
	first, _ := u.resolver.FlightID("AABBCC")

	setClock(u, base.Add(2*time.Minute))
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "", 47.1, 8.1, 31000)}))
	second, _ := u.resolver.FlightID("AABBCC")

	assert.Equal(t, first, second)
}

func TestCallsignFilledWhenPreviouslyEmpty(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	setClock(u, base)
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "", 47.0, 8.0, 30000)}))
	flightID, _ := u.resolver.FlightID("AABBCC")

	setClock(u, base.Add(time.Minute))
	require.NoError(t, u.resolver.ResolveBatch([]radar.PositionReport{report("AABBCC", "SWR11A", 47.0, 8.0, 30000)}))

	second, _ := u.resolver.FlightID("AABBCC")
	require.Equal(t, flightID, second)

	flight, err := ds.GetFlight(flightID)
	require.NoError(t, err)
	assert.Equal(t, "SWR11A", flight.Callsign)
}

func TestDedupAcrossCycles(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	batch := []radar.PositionReport{report("4B1805", "SWR123", 46.5, 7.5, 20000)}

	require.NoError(t, u.resolver.ResolveBatch(batch))
	require.NoError(t, u.dedup.AddPositions(batch, u.resolver))
	flightID, _ := u.resolver.FlightID("4B1805")

	u.dedup.ClearChanges()
	require.NoError(t, u.resolver.ResolveBatch(batch))
	require.NoError(t, u.dedup.AddPositions(batch, u.resolver))

	positions, err := ds.GetFlightPositions(flightID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.False(t, u.dedup.HasChanges(), "an identical position must not enter the changed-set")
}

func TestMovedPositionEntersChangedSet(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	first := []radar.PositionReport{report("4B1805", "SWR123", 46.5, 7.5, 20000)}
	require.NoError(t, u.resolver.ResolveBatch(first))
	require.NoError(t, u.dedup.AddPositions(first, u.resolver))
	flightID, _ := u.resolver.FlightID("4B1805")

	u.dedup.ClearChanges()
	second := []radar.PositionReport{report("4B1805", "SWR123", 46.6, 7.6, 21000)}
	require.NoError(t, u.resolver.ResolveBatch(second))
	require.NoError(t, u.dedup.AddPositions(second, u.resolver))

	positions, err := ds.GetFlightPositions(flightID)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	changed := u.dedup.ChangedFlightIDs()
	_, ok := changed[flightID]
	assert.True(t, ok)
}

func TestHashCacheWholesaleReset(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)
	u.dedup.cacheCap = 3

	var batch []radar.PositionReport
	addrs := []string{"4B1801", "4B1802", "4B1803", "4B1804"}
	for i, addr := range addrs {
		batch = append(batch, report(addr, "", 40.0+float64(i), 7.0, 10000))
	}

	require.NoError(t, u.resolver.ResolveBatch(batch))
	require.NoError(t, u.dedup.AddPositions(batch, u.resolver))

	assert.Equal(t, 0, u.dedup.HashCacheSize(), "exceeding the cap resets the hash set wholesale")
}

func TestRetentionSweep(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	// Stale flight, outside the 60 minute retention window.
	setClock(u, base.Add(-2*time.Hour))
	stale := []radar.PositionReport{report("111111", "OLD1", 40.0, 5.0, 10000)}
	require.NoError(t, u.resolver.ResolveBatch(stale))
	require.NoError(t, u.dedup.AddPositions(stale, u.resolver))
	staleID, _ := u.resolver.FlightID("111111")

	// Fresh flight inside the window.
	setClock(u, base)
	fresh := []radar.PositionReport{report("222222", "NEW1", 41.0, 6.0, 11000)}
	require.NoError(t, u.resolver.ResolveBatch(fresh))
	require.NoError(t, u.dedup.AddPositions(fresh, u.resolver))
	freshID, _ := u.resolver.FlightID("222222")

	require.NoError(t, u.sweeper.Sweep(u.resolver, u.dedup))

	_, err := ds.GetFlight(staleID)
	assert.Error(t, err, "stale flight must be purged from the store")
	_, ok := u.resolver.FlightID("111111")
	assert.False(t, ok, "stale flight must be evicted from the identity cache")

	_, err = ds.GetFlight(freshID)
	assert.NoError(t, err)
	_, ok = u.resolver.FlightID("222222")
	assert.True(t, ok)
}

func TestSweepDisabledWithZeroRetention(t *testing.T) {
	feed := &fakeRadar{}
	u, ds := newTestCoordinator(t, feed)
	u.sweeper.retention = 0

	setClock(u, time.Now().UTC().Add(-24*time.Hour))
	old := []radar.PositionReport{report("111111", "OLD1", 40.0, 5.0, 10000)}
	require.NoError(t, u.resolver.ResolveBatch(old))
	oldID, _ := u.resolver.FlightID("111111")

	require.NoError(t, u.sweeper.Sweep(u.resolver, u.dedup))

	_, err := ds.GetFlight(oldID)
	assert.NoError(t, err, "a zero retention window disables sweeping")
}

func TestTickSkippedWhileCycleInFlight(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	u.updateMu.Lock()
	defer u.updateMu.Unlock()

	u.Update()

	assert.Equal(t, 0, feed.callCount(), "a dropped tick must not touch the feed or store")
}

func TestUpdateCycleEndToEnd(t *testing.T) {
	feed := &fakeRadar{
		batches: [][]radar.PositionReport{{
			report("4840D6", "SWR123", 47.0, 8.0, 3000),
		}},
	}
	u, ds := newTestCoordinator(t, feed)

	received := make(chan map[uint]CachedPosition, 1)
	u.RegisterSubscriber(func(positions map[uint]CachedPosition) error {
		received <- positions
		return nil
	})

	u.Update()

	flightID, ok := u.resolver.FlightID("4840D6")
	require.True(t, ok)

	positions, err := ds.GetFlightPositions(flightID)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	select {
	case payload := <-received:
		require.Contains(t, payload, flightID)
		assert.InDelta(t, 47.0, payload[flightID].Lat, 0.0001)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestUpdateSurvivesFeedFailure(t *testing.T) {
	feed := &fakeRadar{err: assert.AnError}
	u, _ := newTestCoordinator(t, feed)

	u.Update()
	u.Update()

	assert.Equal(t, 2, feed.callCount(), "a failed poll must not stop subsequent ticks")
}

func TestGetCachedFlightsWindow(t *testing.T) {
	feed := &fakeRadar{}
	u, _ := newTestCoordinator(t, feed)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	setClock(u, base.Add(-5*time.Minute))
	older := []radar.PositionReport{report("111111", "OLD1", 40.0, 5.0, 10000)}
	require.NoError(t, u.resolver.ResolveBatch(older))
	require.NoError(t, u.dedup.AddPositions(older, u.resolver))

	setClock(u, base)
	recent := []radar.PositionReport{report("222222", "NEW1", 41.0, 6.0, 11000)}
	require.NoError(t, u.resolver.ResolveBatch(recent))
	require.NoError(t, u.dedup.AddPositions(recent, u.resolver))

	cached := u.GetCachedFlights()
	freshID, _ := u.resolver.FlightID("222222")
	require.Contains(t, cached, freshID)
	staleID, _ := u.resolver.FlightID("111111")
	assert.NotContains(t, cached, staleID, "positions older than a minute drop out of the live view")
}

func TestPositionHashDistinguishesMissingAltitude(t *testing.T) {
	minusOne := -1
	zero := 0

	noAlt := positionHash(47.0, 8.0, nil)
	assert.NotEqual(t, noAlt, positionHash(47.0, 8.0, &minusOne))
	assert.NotEqual(t, noAlt, positionHash(47.0, 8.0, &zero))
	assert.NotEqual(t, positionHash(47.0, 8.0, &minusOne), positionHash(47.0, 8.0, &zero))
}

// failingStore wraps a real store and fails selected operations on demand.
type failingStore struct {
	datastore.Interface
	failBulkUpdates bool
	failInserts     bool
}

func (f *failingStore) BulkUpdateFlights(updates []datastore.FlightUpdate) error {
	if f.failBulkUpdates {
		return assert.AnError
	}
	return f.Interface.BulkUpdateFlights(updates)
}

func (f *failingStore) InsertPositions(positions []datastore.Position) error {
	if f.failInserts {
		return assert.AnError
	}
	return f.Interface.InsertPositions(positions)
}

func TestUpdateStoreErrorLeavesCachesUntouched(t *testing.T) {
	settings := testSettings(t)
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	store := &failingStore{Interface: ds}

	lookup, err := modes.NewLookup("")
	require.NoError(t, err)

	feed := &fakeRadar{batches: [][]radar.PositionReport{
		{report("4840D6", "SWR123", 47.0, 8.0, 3000)},
		{report("4840D6", "SWR123", 47.1, 8.1, 3100), report("AE0123", "RCH001", 40.0, 5.0, 20000)},
		{report("4840D6", "SWR123", 47.2, 8.2, 3200)},
	}}
	u := NewUpdateCoordinator(settings, store, feed, lookup, nil, nil)

	// first cycle succeeds and seeds the caches
	u.Update()
	flightID, ok := u.resolver.FlightID("4840D6")
	require.True(t, ok)
	contactBefore, ok := u.resolver.LastContact(flightID)
	require.True(t, ok)
	posBefore, ok := u.dedup.lastPos[flightID]
	require.True(t, ok)
	hashesBefore := len(u.dedup.hashes)

	// a failed flight write aborts the cycle before any cache changes
	store.failBulkUpdates = true
	u.Update()
	store.failBulkUpdates = false

	_, created := u.resolver.FlightID("AE0123")
	assert.False(t, created, "no leg may be created after an aborted cycle")
	contactAfter, _ := u.resolver.LastContact(flightID)
	assert.Equal(t, contactBefore, contactAfter)
	assert.Equal(t, posBefore, u.dedup.lastPos[flightID])
	assert.Equal(t, hashesBefore, len(u.dedup.hashes))

	// a failed position write keeps the dedup caches at the last success
	store.failInserts = true
	u.Update()
	store.failInserts = false

	assert.Equal(t, posBefore, u.dedup.lastPos[flightID])
	assert.Equal(t, hashesBefore, len(u.dedup.hashes))
}

func TestFileLoggerCapturesCycleEvents(t *testing.T) {
	settings := testSettings(t)
	settings.Main.Log.Enabled = true
	settings.Main.Log.Path = filepath.Join(t.TempDir(), "tracker.log")

	prev := serviceLogger
	t.Cleanup(func() { serviceLogger = prev })

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	lookup, err := modes.NewLookup("")
	require.NoError(t, err)

	feed := &fakeRadar{batches: [][]radar.PositionReport{{
		report("4840D6", "SWR123", 47.0, 8.0, 3000),
	}}}
	u := NewUpdateCoordinator(settings, ds, feed, lookup, nil, nil)
	u.Update()

	data, err := os.ReadFile(settings.Main.Log.Path)
	require.NoError(t, err)
	logged := string(data)
	assert.Contains(t, logged, `"service":"tracker"`)
	assert.Contains(t, logged, "aircraftEvent=insert")
}
