package crawler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/errors"
)

func testCrawlerSettings() *conf.CrawlerSettings {
	return &conf.CrawlerSettings{
		Sources:       []string{"hexdb"},
		QueueSize:     10,
		IntervalMs:    100,
		MaxRetries:    3,
		CacheTTLHours: 1,
	}
}

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "crawler_test.db")
	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func TestSourceBackoff(t *testing.T) {
	b := NewSourceBackoff()
	current := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	assert.True(t, b.CanRetryNow())
	assert.Equal(t, time.Duration(0), b.Delay())

	b.RecordFailure()
	assert.Equal(t, 2*time.Second, b.Delay())
	assert.False(t, b.CanRetryNow())

	current = current.Add(2 * time.Second)
	assert.True(t, b.CanRetryNow())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, 8*time.Second, b.Delay())

	// Delay caps at five minutes regardless of failure count.
	for i := 0; i < 20; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, 300*time.Second, b.Delay())

	b.Reset()
	assert.True(t, b.CanRetryNow())
	assert.Equal(t, 0, b.FailureCount())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		retryable bool
	}{
		{"not found", 404, false},
		{"rate limited", 429, true},
		{"server error", 500, true},
		{"bad gateway", 502, true},
		{"forbidden", 403, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &statusError{source: "test", code: tt.code}
			assert.Equal(t, tt.retryable, isRetryable(err))
		})
	}

	assert.True(t, isRetryable(assert.AnError), "network errors are retryable")
}

func TestHexDBLookup(t *testing.T) {
	src := NewHexDB()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://hexdb.io/api/v1/aircraft/4b1805",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"ModeS":            "4B1805",
			"Registration":     "HB-JCA",
			"ICAOTypeCode":     "BCS3",
			"Manufacturer":     "Airbus",
			"Type":             "A220-300",
			"RegisteredOwners": "Swiss International Air Lines",
		}))

	aircraft, err := src.Lookup("4b1805")
	require.NoError(t, err)
	require.NotNil(t, aircraft)
	assert.Equal(t, "4B1805", aircraft.ICAO24)
	assert.Equal(t, "HB-JCA", aircraft.Registration)
	assert.Equal(t, "BCS3", aircraft.TypeCode)
	assert.Equal(t, "Airbus A220-300", aircraft.TypeName)
	assert.Equal(t, "Swiss International Air Lines", aircraft.Operator)
	assert.Equal(t, "hexdb.io", aircraft.Source)
}

func TestHexDBLookupNotFound(t *testing.T) {
	src := NewHexDB()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://hexdb.io/api/v1/aircraft/abcdef",
		httpmock.NewStringResponder(404, "not found"))

	aircraft, err := src.Lookup("abcdef")
	require.NoError(t, err)
	assert.Nil(t, aircraft)
}

func TestLookupServerErrorCategory(t *testing.T) {
	src := NewHexDB()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://hexdb.io/api/v1/aircraft/4b1805",
		httpmock.NewStringResponder(500, "boom"))

	_, err := src.Lookup("4b1805")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.True(t, isRetryable(err))
}

func TestOpenSkyLookup(t *testing.T) {
	src := NewOpenSky()
	httpmock.ActivateNonDefault(src.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://opensky-network.org/api/metadata/aircraft/icao/4b1805",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"icao24":           "4b1805",
			"registration":     "HB-JCA",
			"typecode":         "BCS3",
			"operator":         "Swiss",
			"manufacturerName": "Airbus",
			"model":            "Airbus A220-300",
		}))

	aircraft, err := src.Lookup("4b1805")
	require.NoError(t, err)
	require.NotNil(t, aircraft)
	assert.Equal(t, "4B1805", aircraft.ICAO24)
	assert.Equal(t, "Airbus A220-300", aircraft.TypeName, "model already carries the manufacturer prefix")
}

func TestScheduleLookupFiltersAndBounds(t *testing.T) {
	ds := newTestStore(t)
	c := New(testCrawlerSettings(), ds, nil)

	c.ScheduleLookup([]string{"4b1805", "4b1805", "not-an-address", ""})
	assert.Equal(t, 1, c.QueueDepth(), "duplicates and invalid addresses are dropped")

	addrs := []string{
		"4b1801", "4b1802", "4b1803", "4b1804", "4b1806", "4b1807",
		"4b1808", "4b1809", "4b180a", "4b180b", "4b180c", "4b180d",
	}
	c.ScheduleLookup(addrs)
	assert.Equal(t, 10, c.QueueDepth(), "queue is bounded by its configured size")
}

func TestProcessQueueStoresMetadata(t *testing.T) {
	ds := newTestStore(t)
	c := New(testCrawlerSettings(), ds, nil)

	hexdb := c.sources[0].(*HexDB)
	httpmock.ActivateNonDefault(hexdb.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://hexdb.io/api/v1/aircraft/4b1805",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"ModeS":        "4B1805",
			"Registration": "HB-JCA",
			"ICAOTypeCode": "BCS3",
			"Type":         "A220-300",
		}))

	c.ScheduleLookup([]string{"4b1805"})
	c.ProcessQueue()

	assert.Equal(t, 0, c.QueueDepth())

	stored, err := ds.GetAircraft("4B1805")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "HB-JCA", stored.Registration)

	// A processed address is remembered and not requeued.
	c.ScheduleLookup([]string{"4b1805"})
	assert.Equal(t, 0, c.QueueDepth())
}

func TestProcessQueueRetriesUntilBudget(t *testing.T) {
	ds := newTestStore(t)
	settings := testCrawlerSettings()
	settings.MaxRetries = 2
	c := New(settings, ds, nil)

	hexdb := c.sources[0].(*HexDB)
	httpmock.ActivateNonDefault(hexdb.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://hexdb.io/api/v1/aircraft/4b1805",
		httpmock.NewStringResponder(500, "server error"))

	c.ScheduleLookup([]string{"4b1805"})

	// First failure backs the source off and requeues the item.
	c.ProcessQueue()
	assert.Equal(t, 1, c.QueueDepth())
	assert.Equal(t, 1, c.backoffs["hexdb.io"].FailureCount())

	// Second cycle: source is in backoff, the item cannot be processed and
	// has exhausted its budget.
	c.ProcessQueue()
	assert.Equal(t, 0, c.QueueDepth())
}

func TestProcessItemSkipsCompleteAircraft(t *testing.T) {
	ds := newTestStore(t)
	c := New(testCrawlerSettings(), ds, nil)

	require.NoError(t, ds.SaveAircraft(&datastore.Aircraft{
		ICAO24:       "4B1805",
		Registration: "HB-JCA",
		TypeCode:     "BCS3",
		TypeName:     "Airbus A220-300",
		Source:       "hexdb.io",
	}))

	hexdb := c.sources[0].(*HexDB)
	httpmock.ActivateNonDefault(hexdb.client)
	defer httpmock.DeactivateAndReset()
	// No responder registered: any HTTP call would fail the test via a
	// connection error and a requeued item.

	c.ScheduleLookup([]string{"4B1805"})
	c.ProcessQueue()
	assert.Equal(t, 0, c.QueueDepth(), "complete records are settled without querying sources")
}
