package tracker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/skyspy/flightradar-go/internal/errors"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
)

// fallbackSampleSize bounds the payload when the changed-set does not
// intersect the cached positions.
const fallbackSampleSize = 50

// SubscriberCallback receives the changed positions of one update cycle,
// keyed by flight id. A returned error unregisters the subscriber.
type SubscriberCallback func(positions map[uint]CachedPosition) error

// ChangeNotifier fans out changed-position deltas to registered
// subscribers. Each delivery runs in its own goroutine so one slow or
// broken subscriber cannot stall the ingestion cycle or the others.
type ChangeNotifier struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]SubscriberCallback
	metrics     *metrics.TrackerMetrics
}

// NewChangeNotifier creates a notifier with no subscribers.
func NewChangeNotifier(m *metrics.TrackerMetrics) *ChangeNotifier {
	return &ChangeNotifier{
		subscribers: make(map[uuid.UUID]SubscriberCallback),
		metrics:     m,
	}
}

// RegisterCallback adds a subscriber and returns its handle.
func (n *ChangeNotifier) RegisterCallback(cb SubscriberCallback) uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	handle := uuid.New()
	n.subscribers[handle] = cb
	n.metrics.UpdateSubscriberCount(len(n.subscribers))
	return handle
}

// UnregisterCallback removes a subscriber. It reports whether the handle
// was registered.
func (n *ChangeNotifier) UnregisterCallback(handle uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subscribers[handle]; !ok {
		return false
	}
	delete(n.subscribers, handle)
	n.metrics.UpdateSubscriberCount(len(n.subscribers))
	return true
}

// HasSubscribers reports whether anyone is listening.
func (n *ChangeNotifier) HasSubscribers() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers) > 0
}

// NotifyPositionChanges delivers the positions in allCached whose flight id
// is in changed. An empty intersection with a non-empty cache is a
// consistency anomaly: it is logged and a bounded sample of all cached
// positions is sent instead of silently sending nothing.
func (n *ChangeNotifier) NotifyPositionChanges(allCached map[uint]CachedPosition, changed map[uint]struct{}) {
	if !n.HasSubscribers() || len(changed) == 0 {
		return
	}

	payload := make(map[uint]CachedPosition, len(changed))
	for flightID, pos := range allCached {
		if _, ok := changed[flightID]; ok {
			payload[flightID] = pos
		}
	}

	if len(payload) == 0 && len(allCached) > 0 {
		serviceLogger.Warn("no changed positions match cached flights, sending bounded sample",
			"changed", len(changed), "cached", len(allCached))
		for flightID, pos := range allCached {
			if len(payload) >= fallbackSampleSize {
				break
			}
			payload[flightID] = pos
		}
	}

	if len(payload) == 0 {
		return
	}
	n.notifySubscribers(payload)
}

func (n *ChangeNotifier) notifySubscribers(payload map[uint]CachedPosition) {
	n.mu.Lock()
	snapshot := make(map[uuid.UUID]SubscriberCallback, len(n.subscribers))
	for handle, cb := range n.subscribers {
		snapshot[handle] = cb
	}
	n.mu.Unlock()

	for handle, cb := range snapshot {
		go n.deliver(handle, cb, payload)
	}
}

// deliver runs one subscriber's callback, removing the subscriber on error
// or panic so one broken client cannot affect the others.
func (n *ChangeNotifier) deliver(handle uuid.UUID, cb SubscriberCallback, payload map[uint]CachedPosition) {
	defer func() {
		if r := recover(); r != nil {
			serviceLogger.Error("subscriber callback panicked, unregistering", "handle", handle, "panic", r)
			n.metrics.RecordNotification("error")
			n.metrics.RecordSubscriberDropped()
			n.UnregisterCallback(handle)
		}
	}()

	if err := cb(payload); err != nil {
		enhanced := errors.New(err).
			Component("tracker").
			Category(errors.CategoryBroadcast).
			Context("handle", handle.String()).
			Build()
		serviceLogger.Error("subscriber callback failed, unregistering", "error", enhanced)
		n.metrics.RecordNotification("error")
		n.metrics.RecordSubscriberDropped()
		n.UnregisterCallback(handle)
		return
	}
	n.metrics.RecordNotification("success")
}
