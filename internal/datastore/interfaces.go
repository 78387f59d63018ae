// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/errors"
	"github.com/skyspy/flightradar-go/internal/observability/metrics"
)

// FlightUpdate carries the mutable fields of one flight for a bulk update.
// Nil fields are left untouched.
type FlightUpdate struct {
	FlightID    uint
	Callsign    *string
	LastContact *time.Time
	ExpireAt    *time.Time
}

// ContactUpdate bumps the last contact timestamp of one flight.
type ContactUpdate struct {
	FlightID    uint
	LastContact time.Time
}

// FlightWithPosition pairs a flight with its most recent position, if any.
type FlightWithPosition struct {
	Flight   Flight
	Position *Position
}

// Interface abstracts the underlying database implementation and defines the
// persistence operations the tracker, crawler and web surface depend on.
type Interface interface {
	Open() error
	Close() error
	SetMetrics(m *metrics.DatastoreMetrics)

	// flight identity and positions
	GetFlightsBatch(icao24s []string) (map[string][]Flight, error)
	GetOrCreateFlight(icao24, callsign string, isMilitary bool, expireAt *time.Time) (Flight, error)
	BulkUpdateFlights(updates []FlightUpdate) error
	InsertPositions(positions []Position) error
	BulkUpdateLastContacts(updates []ContactUpdate) error
	GetRecentFlightsWithLastPosition(since time.Time, pageSize int, afterID uint) ([]FlightWithPosition, error)

	// retention
	GetFlightsOlderThan(cutoff time.Time) ([]Flight, error)
	DeleteFlightsAndPositions(ids []uint) error

	// queries for the serving surface
	GetFlight(id uint) (Flight, error)
	GetFlightPositions(flightID uint) ([]Position, error)

	// aircraft metadata
	GetAircraft(icao24 string) (*Aircraft, error)
	SaveAircraft(aircraft *Aircraft) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *metrics.DatastoreMetrics
}

// SetMetrics attaches Prometheus metrics to the datastore operations.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// observe records the outcome and duration of one datastore operation. It is
// meant to run deferred with the operation's named error return.
func (ds *DataStore) observe(operation string, start time.Time, errp *error) {
	if ds.metrics == nil {
		return
	}

	status := "success"
	if *errp != nil {
		status = "error"
		ds.metrics.RecordError(operation, string(errors.GetCategory(*errp)))
	}
	ds.metrics.RecordOperation(operation, status)
	ds.metrics.RecordOperationDuration(operation, time.Since(start).Seconds())
}

// New creates a new datastore instance based on the configured output.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// GetFlightsBatch fetches all flights for the given addresses in one query,
// grouped by address and ordered most recent contact first within each group.
func (ds *DataStore) GetFlightsBatch(icao24s []string) (_ map[string][]Flight, err error) {
	defer ds.observe("get_flights_batch", time.Now(), &err)

	grouped := make(map[string][]Flight, len(icao24s))
	if len(icao24s) == 0 {
		return grouped, nil
	}

	var flights []Flight
	if err := ds.DB.Where("icao24 IN ?", icao24s).
		Order("last_contact DESC").
		Find(&flights).Error; err != nil {
		return nil, dbError(err, "get_flights_batch")
	}

	for i := range flights {
		grouped[flights[i].ICAO24] = append(grouped[flights[i].ICAO24], flights[i])
	}
	return grouped, nil
}

// GetOrCreateFlight returns a flight row for a newly resolved leg. A row
// created for the same address and callsign within the last minute is reused
// so replayed batches stay idempotent; anything older is a distinct leg and
// gets a fresh row.
func (ds *DataStore) GetOrCreateFlight(icao24, callsign string, isMilitary bool, expireAt *time.Time) (_ Flight, err error) {
	defer ds.observe("get_or_create_flight", time.Now(), &err)

	now := time.Now().UTC()

	var existing Flight
	err = ds.DB.Where("icao24 = ? AND callsign = ? AND last_contact > ?",
		icao24, callsign, now.Add(-time.Minute)).
		Order("last_contact DESC").
		First(&existing).Error
	switch {
	case err == nil:
		existing.LastContact = now
		existing.ExpireAt = expireAt
		if err := ds.DB.Model(&existing).
			Updates(map[string]any{"last_contact": now, "expire_at": expireAt}).Error; err != nil {
			return Flight{}, dbError(err, "get_or_create_flight")
		}
		return existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to create
	default:
		return Flight{}, dbError(err, "get_or_create_flight")
	}

	flight := Flight{
		ICAO24:       icao24,
		Callsign:     callsign,
		IsMilitary:   isMilitary,
		FirstContact: now,
		LastContact:  now,
		ExpireAt:     expireAt,
	}
	if err := ds.DB.Create(&flight).Error; err != nil {
		return Flight{}, dbError(err, "get_or_create_flight")
	}
	return flight, nil
}

// BulkUpdateFlights applies callsign/timestamp updates in one transaction.
func (ds *DataStore) BulkUpdateFlights(updates []FlightUpdate) (err error) {
	defer ds.observe("bulk_update_flights", time.Now(), &err)

	if len(updates) == 0 {
		return nil
	}

	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range updates {
			fields := make(map[string]any, 3)
			if updates[i].Callsign != nil {
				fields["callsign"] = *updates[i].Callsign
			}
			if updates[i].LastContact != nil {
				fields["last_contact"] = *updates[i].LastContact
			}
			if updates[i].ExpireAt != nil {
				fields["expire_at"] = *updates[i].ExpireAt
			}
			if len(fields) == 0 {
				continue
			}
			if err := tx.Model(&Flight{}).
				Where("id = ?", updates[i].FlightID).
				Updates(fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "bulk_update_flights")
	}
	return nil
}

// InsertPositions appends position rows in one batch insert.
func (ds *DataStore) InsertPositions(positions []Position) (err error) {
	defer ds.observe("insert_positions", time.Now(), &err)

	if len(positions) == 0 {
		return nil
	}
	if err := ds.DB.Create(&positions).Error; err != nil {
		return dbError(err, "insert_positions")
	}
	return nil
}

// BulkUpdateLastContacts bumps last contact timestamps in one transaction.
func (ds *DataStore) BulkUpdateLastContacts(updates []ContactUpdate) (err error) {
	defer ds.observe("bulk_update_last_contacts", time.Now(), &err)

	if len(updates) == 0 {
		return nil
	}

	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range updates {
			if err := tx.Model(&Flight{}).
				Where("id = ?", updates[i].FlightID).
				Update("last_contact", updates[i].LastContact).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "bulk_update_last_contacts")
	}
	return nil
}

// GetRecentFlightsWithLastPosition pages through flights seen since the given
// timestamp, each paired with its latest position. Pagination is keyed on the
// flight id; pass the last id of the previous page, or 0 for the first page.
func (ds *DataStore) GetRecentFlightsWithLastPosition(since time.Time, pageSize int, afterID uint) (_ []FlightWithPosition, err error) {
	defer ds.observe("get_recent_flights", time.Now(), &err)

	var flights []Flight
	if err := ds.DB.Where("last_contact > ? AND id > ?", since, afterID).
		Order("id ASC").
		Limit(pageSize).
		Find(&flights).Error; err != nil {
		return nil, dbError(err, "get_recent_flights")
	}

	results := make([]FlightWithPosition, 0, len(flights))
	for i := range flights {
		var pos Position
		err := ds.DB.Where("flight_id = ?", flights[i].ID).
			Order("timestamp DESC").
			First(&pos).Error
		switch {
		case err == nil:
			results = append(results, FlightWithPosition{Flight: flights[i], Position: &pos})
		case errors.Is(err, gorm.ErrRecordNotFound):
			results = append(results, FlightWithPosition{Flight: flights[i]})
		default:
			return nil, dbError(err, "get_recent_flights")
		}
	}
	return results, nil
}

// GetFlightsOlderThan returns flights whose last contact is before the cutoff.
func (ds *DataStore) GetFlightsOlderThan(cutoff time.Time) (_ []Flight, err error) {
	defer ds.observe("get_flights_older_than", time.Now(), &err)

	var flights []Flight
	if err := ds.DB.Where("last_contact < ?", cutoff).Find(&flights).Error; err != nil {
		return nil, dbError(err, "get_flights_older_than")
	}
	return flights, nil
}

// DeleteFlightsAndPositions removes the given flights and all their positions.
// Positions go first so a failure between the two deletes never orphans them.
func (ds *DataStore) DeleteFlightsAndPositions(ids []uint) (err error) {
	defer ds.observe("delete_flights_and_positions", time.Now(), &err)

	if len(ids) == 0 {
		return nil
	}

	err = ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flight_id IN ?", ids).Delete(&Position{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&Flight{}).Error
	})
	if err != nil {
		return dbError(err, "delete_flights_and_positions")
	}
	return nil
}

// GetFlight retrieves one flight by id.
func (ds *DataStore) GetFlight(id uint) (_ Flight, err error) {
	defer ds.observe("get_flight", time.Now(), &err)

	var flight Flight
	if err := ds.DB.First(&flight, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Flight{}, errors.Newf("flight %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return Flight{}, dbError(err, "get_flight")
	}
	return flight, nil
}

// GetFlightPositions returns the full track of one flight in time order.
func (ds *DataStore) GetFlightPositions(flightID uint) (_ []Position, err error) {
	defer ds.observe("get_flight_positions", time.Now(), &err)

	var positions []Position
	if err := ds.DB.Where("flight_id = ?", flightID).
		Order("timestamp ASC").
		Find(&positions).Error; err != nil {
		return nil, dbError(err, "get_flight_positions")
	}
	return positions, nil
}

// GetAircraft looks up crawled metadata for an address. A missing record is
// returned as nil without an error.
func (ds *DataStore) GetAircraft(icao24 string) (_ *Aircraft, err error) {
	defer ds.observe("get_aircraft", time.Now(), &err)

	var aircraft Aircraft
	err = ds.DB.Where("icao24 = ?", icao24).First(&aircraft).Error
	switch {
	case err == nil:
		return &aircraft, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, dbError(err, "get_aircraft")
	}
}

// SaveAircraft inserts or updates a metadata record, merging into any
// existing row for the same address.
func (ds *DataStore) SaveAircraft(aircraft *Aircraft) (err error) {
	defer ds.observe("save_aircraft", time.Now(), &err)

	existing, err := ds.GetAircraft(aircraft.ICAO24)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := ds.DB.Create(aircraft).Error; err != nil {
			return dbError(err, "save_aircraft")
		}
		return nil
	}

	if existing.MergeFrom(aircraft) {
		if err := ds.DB.Save(existing).Error; err != nil {
			return dbError(err, "save_aircraft")
		}
	}
	*aircraft = *existing
	return nil
}

// dbError wraps a gorm error with datastore metadata, classifying quota
// exhaustion separately so callers can log it distinctly.
func dbError(err error, operation string) error {
	category := errors.CategoryDatabase
	if errors.IsQuotaExceeded(err) {
		category = errors.CategoryQuota
	}
	return errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", operation).
		Build()
}
