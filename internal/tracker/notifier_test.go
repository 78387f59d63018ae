package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePositions(n int) map[uint]CachedPosition {
	positions := make(map[uint]CachedPosition, n)
	for i := 0; i < n; i++ {
		positions[uint(i+1)] = CachedPosition{
			ICAO24:    "4B1805",
			Lat:       46.0 + float64(i),
			Lon:       7.0,
			Timestamp: time.Now().UTC(),
		}
	}
	return positions
}

func changedSet(ids ...uint) map[uint]struct{} {
	changed := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		changed[id] = struct{}{}
	}
	return changed
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNotifierDeliversChangedSubset(t *testing.T) {
	n := NewChangeNotifier(nil)

	var mu sync.Mutex
	var got map[uint]CachedPosition
	n.RegisterCallback(func(positions map[uint]CachedPosition) error {
		mu.Lock()
		got = positions
		mu.Unlock()
		return nil
	})

	all := samplePositions(3)
	n.NotifyPositionChanges(all, changedSet(2))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, "subscriber was not notified")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Contains(t, got, uint(2))
}

func TestNotifierIsolatesFailingSubscriber(t *testing.T) {
	n := NewChangeNotifier(nil)

	broken := n.RegisterCallback(func(positions map[uint]CachedPosition) error {
		return assert.AnError
	})

	var mu sync.Mutex
	healthyCalls := 0
	n.RegisterCallback(func(positions map[uint]CachedPosition) error {
		mu.Lock()
		healthyCalls++
		mu.Unlock()
		return nil
	})

	all := samplePositions(1)
	n.NotifyPositionChanges(all, changedSet(1))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthyCalls == 1 && !n.UnregisterCallback(broken)
	}, "failing subscriber was not removed or healthy one not notified")

	// Second cycle reaches only the healthy subscriber.
	n.NotifyPositionChanges(all, changedSet(1))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthyCalls == 2
	}, "healthy subscriber missed the second cycle")
}

func TestNotifierRemovesPanickingSubscriber(t *testing.T) {
	n := NewChangeNotifier(nil)

	handle := n.RegisterCallback(func(positions map[uint]CachedPosition) error {
		panic("boom")
	})

	n.NotifyPositionChanges(samplePositions(1), changedSet(1))

	waitFor(t, func() bool {
		return !n.UnregisterCallback(handle)
	}, "panicking subscriber was not removed")
}

func TestNotifierFallbackSample(t *testing.T) {
	n := NewChangeNotifier(nil)

	var mu sync.Mutex
	var got map[uint]CachedPosition
	n.RegisterCallback(func(positions map[uint]CachedPosition) error {
		mu.Lock()
		got = positions
		mu.Unlock()
		return nil
	})

	// The changed id is absent from the cache, a consistency anomaly. The
	// notifier falls back to a bounded sample instead of sending nothing.
	all := samplePositions(fallbackSampleSize + 20)
	n.NotifyPositionChanges(all, changedSet(9999))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, "subscriber was not notified")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, fallbackSampleSize)
}

func TestNotifierNoSubscribersIsNoop(t *testing.T) {
	n := NewChangeNotifier(nil)
	assert.False(t, n.HasSubscribers())
	n.NotifyPositionChanges(samplePositions(1), changedSet(1))
}

func TestUnregisterUnknownHandle(t *testing.T) {
	n := NewChangeNotifier(nil)
	handle := n.RegisterCallback(func(map[uint]CachedPosition) error { return nil })
	assert.True(t, n.UnregisterCallback(handle))
	assert.False(t, n.UnregisterCallback(handle))
}
