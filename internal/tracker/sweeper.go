package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
)

// RetentionSweeper purges flights and their positions once their last
// contact falls out of the retention window. It runs as a sub-step of the
// coordinator's cycle, never on its own timer, so there is only one write
// path into the store.
type RetentionSweeper struct {
	ds        datastore.Interface
	retention time.Duration
	chunkSize int
	metrics   *metrics.TrackerMetrics
	now       func() time.Time
}

// NewRetentionSweeper creates a sweeper. A retention of zero minutes
// disables sweeping entirely.
func NewRetentionSweeper(ds datastore.Interface, retentionMinutes, chunkSize int, m *metrics.TrackerMetrics) *RetentionSweeper {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	return &RetentionSweeper{
		ds:        ds,
		retention: time.Duration(retentionMinutes) * time.Minute,
		chunkSize: chunkSize,
		metrics:   m,
		now:       time.Now,
	}
}

// Enabled reports whether a retention window is configured.
func (s *RetentionSweeper) Enabled() bool {
	return s.retention > 0
}

// Sweep deletes expired flights in chunks and evicts them from the identity
// and position caches after each successful delete.
func (s *RetentionSweeper) Sweep(resolver *FlightIdentityResolver, dedup *PositionDeduplicator) error {
	if !s.Enabled() {
		return nil
	}

	cutoff := s.now().UTC().Add(-s.retention)
	expired, err := s.ds.GetFlightsOlderThan(cutoff)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	swept := 0
	for start := 0; start < len(expired); start += s.chunkSize {
		end := min(start+s.chunkSize, len(expired))
		chunk := expired[start:end]

		ids := make([]uint, len(chunk))
		for i := range chunk {
			ids[i] = chunk[i].ID
		}

		if err := s.ds.DeleteFlightsAndPositions(ids); err != nil {
			s.metrics.RecordFlightsSwept(swept)
			return err
		}

		resolver.Evict(chunk)
		dedup.Evict(ids)
		swept += len(chunk)

		logSweptFlights(chunk)
	}

	s.metrics.RecordFlightsSwept(swept)
	return nil
}

func logSweptFlights(flights []datastore.Flight) {
	const sample = 5
	parts := make([]string, 0, sample)
	for i := range flights {
		if i == sample {
			break
		}
		parts = append(parts, fmt.Sprintf("%d (cs=%s)", flights[i].ID, flights[i].Callsign))
	}
	msg := strings.Join(parts, ", ")
	if len(flights) > sample {
		msg = fmt.Sprintf("%s and %d more", msg, len(flights)-sample)
	}
	serviceLogger.Info("aircraftEvent=delete", "flights", msg, "count", len(flights))
}
