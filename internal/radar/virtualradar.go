package radar

import (
	"time"
)

// VirtualRadar polls a Virtual Radar Server instance. Every poll returns the
// complete aircraft list, there is no incremental state to maintain.
type VirtualRadar struct {
	*baseService
}

type vrsAircraft struct {
	ICAO24   string   `json:"Icao"`
	Lat      *float64 `json:"Lat"`
	Lon      *float64 `json:"Long"`
	Alt      *int     `json:"Alt"`
	Speed    *float64 `json:"Spd"`
	Track    *float64 `json:"Trak"`
	Callsign string   `json:"Call"`
}

type vrsAircraftList struct {
	AcList []vrsAircraft `json:"acList"`
}

// NewVirtualRadar returns an adapter for the given VRS base URL.
func NewVirtualRadar(rawURL string, timeout time.Duration) (*VirtualRadar, error) {
	bs, err := newBaseService(rawURL, timeout, "radar.vrs")
	if err != nil {
		return nil, err
	}
	return &VirtualRadar{baseService: bs}, nil
}

// QueryLiveFlights returns the full current aircraft list.
func (v *VirtualRadar) QueryLiveFlights(filterIncomplete bool) ([]PositionReport, error) {
	var list vrsAircraftList
	if err := v.doJSON("POST", "/AircraftList.json", nil, &list); err != nil {
		return nil, err
	}

	reports := make([]PositionReport, 0, len(list.AcList))
	for _, ac := range list.AcList {
		if ac.ICAO24 == "" {
			continue
		}
		report := PositionReport{
			ICAO24:      ac.ICAO24,
			Lat:         ac.Lat,
			Lon:         ac.Lon,
			Alt:         ac.Alt,
			GroundSpeed: ac.Speed,
			Track:       ac.Track,
			Callsign:    ac.Callsign,
		}
		if keepReport(&report, filterIncomplete) {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
