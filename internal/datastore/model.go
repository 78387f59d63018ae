// model.go this code defines the data model for the application
package datastore

import "time"

// Flight represents one continuous tracked appearance of a transponder
// address. At most one flight per icao24 is active at a time; a reappearance
// after the continuation threshold, or under a conflicting callsign, starts a
// new row.
type Flight struct {
	ID           uint   `gorm:"primaryKey"`
	ICAO24       string `gorm:"column:icao24;index:idx_flights_icao24;size:6;not null"`
	Callsign     string `gorm:"size:8"`
	IsMilitary   bool
	FirstContact time.Time
	LastContact  time.Time  `gorm:"index:idx_flights_last_contact"`
	ExpireAt     *time.Time // retention hint, set only when a retention window is configured

	Positions []Position `gorm:"foreignKey:FlightID;constraint:OnDelete:CASCADE"`
}

// Position is one persisted track point of a flight. Append-only; rows are
// bulk-deleted together with their parent flight.
type Position struct {
	ID        uint `gorm:"primaryKey"`
	FlightID  uint `gorm:"index:idx_positions_flight_id;not null"`
	Lat       float64
	Lon       float64
	Alt       *int
	Track     *float64
	Timestamp time.Time `gorm:"index:idx_positions_timestamp"`
}

// Aircraft holds crawled airframe metadata for a transponder address,
// independent of any flight leg.
type Aircraft struct {
	ID           uint   `gorm:"primaryKey"`
	ICAO24       string `gorm:"column:icao24;uniqueIndex:idx_aircraft_icao24;size:6;not null"`
	Registration string
	TypeCode     string // ICAO type designator, e.g. A320
	TypeName     string // manufacturer and model
	Operator     string
	Source       string // metadata source the record came from
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MergeFrom fills empty fields of the aircraft from another record.
// It reports whether anything changed. Records for different addresses
// never merge.
func (a *Aircraft) MergeFrom(other *Aircraft) bool {
	if a.ICAO24 != other.ICAO24 {
		return false
	}
	changed := false
	if a.Registration == "" && other.Registration != "" {
		a.Registration = other.Registration
		changed = true
	}
	if a.TypeCode == "" && other.TypeCode != "" {
		a.TypeCode = other.TypeCode
		changed = true
	}
	if a.TypeName == "" && other.TypeName != "" {
		a.TypeName = other.TypeName
		changed = true
	}
	if a.Operator == "" && other.Operator != "" {
		a.Operator = other.Operator
		changed = true
	}
	if a.Source == "" && other.Source != "" {
		a.Source = other.Source
		changed = true
	}
	return changed
}

// IsComplete reports whether the record carries registration and type data.
func (a *Aircraft) IsComplete() bool {
	return a.Registration != "" && a.TypeCode != "" && a.TypeName != ""
}
