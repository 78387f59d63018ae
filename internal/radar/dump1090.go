package radar

import (
	"fmt"
	"strings"
	"time"

	"github.com/skyspy/flightradar-go/internal/modes"
)

// Dump1090 polls the aircraft.json endpoint of a dump1090 (or readsb)
// instance. A cache busting timestamp query parameter is appended to every
// request because some builds serve the file with aggressive cache headers.
type Dump1090 struct {
	*baseService
	now func() time.Time
}

type dump1090Aircraft struct {
	Hex     string   `json:"hex"`
	Flight  string   `json:"flight"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	AltGeom *int     `json:"alt_geom"`
	GS      *float64 `json:"gs"`
	Track   *float64 `json:"track"`
}

type dump1090Response struct {
	Aircraft []dump1090Aircraft `json:"aircraft"`
}

// NewDump1090 returns an adapter for the given dump1090 base URL.
func NewDump1090(rawURL string, timeout time.Duration) (*Dump1090, error) {
	bs, err := newBaseService(rawURL, timeout, "radar.dmp1090")
	if err != nil {
		return nil, err
	}
	return &Dump1090{baseService: bs, now: time.Now}, nil
}

// QueryLiveFlights returns the full current aircraft list. Entries whose hex
// field is not a plain Mode-S address (dump1090 prefixes TIS-B targets with
// a tilde) are dropped.
func (d *Dump1090) QueryLiveFlights(filterIncomplete bool) ([]PositionReport, error) {
	var resp dump1090Response
	path := fmt.Sprintf("/data/aircraft.json?_=%d", d.now().Unix())
	if err := d.doJSON("GET", path, nil, &resp); err != nil {
		return nil, err
	}

	reports := make([]PositionReport, 0, len(resp.Aircraft))
	for _, ac := range resp.Aircraft {
		icao24 := strings.TrimSpace(ac.Hex)
		if !modes.IsICAO24Addr(icao24) {
			continue
		}
		report := PositionReport{
			ICAO24:      icao24,
			Lat:         ac.Lat,
			Lon:         ac.Lon,
			Alt:         ac.AltGeom,
			GroundSpeed: ac.GS,
			Track:       ac.Track,
			Callsign:    strings.TrimSpace(ac.Flight),
		}
		if keepReport(&report, filterIncomplete) {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
