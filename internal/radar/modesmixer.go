package radar

import (
	"bytes"
	"encoding/json"
	"time"
)

// ModeSMixer polls a ModeSMixer 2 server over its JSON-RPC style stats
// endpoint. The protocol is incremental: each response carries an epoch that
// must be echoed in the next request, and entries only contain the fields
// that changed since that epoch. Polling with epoch 0 returns the full set.
type ModeSMixer struct {
	*baseService
	epoch int64
}

// mm2Flight is one entry of the stats.flights array. ModeSMixer uses single
// letter keys on the wire.
type mm2Flight struct {
	ICAO24   string   `json:"I"`
	Lat      *float64 `json:"LA"`
	Lon      *float64 `json:"LO"`
	Alt      *int     `json:"A"`
	Callsign string   `json:"CS"`
	Track    *float64 `json:"T"`
}

type mm2StatsResponse struct {
	Stats struct {
		Flights []json.RawMessage `json:"flights"`
		Epoch   int64             `json:"epoch"`
	} `json:"stats"`
}

type mm2StatsRequest struct {
	Req  string `json:"req"`
	Data struct {
		StatsType string `json:"statsType"`
		ID        int64  `json:"id"`
	} `json:"data"`
}

// NewModeSMixer returns an adapter for the given ModeSMixer base URL.
func NewModeSMixer(rawURL string, timeout time.Duration) (*ModeSMixer, error) {
	bs, err := newBaseService(rawURL, timeout, "radar.mm2")
	if err != nil {
		return nil, err
	}
	return &ModeSMixer{baseService: bs}, nil
}

func (m *ModeSMixer) getFlightInfo() ([]mm2Flight, error) {
	reqBody := mm2StatsRequest{Req: "getStats"}
	reqBody.Data.StatsType = "flights"
	reqBody.Data.ID = m.epoch

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var resp mm2StatsResponse
	if err := m.doJSON("POST", "/json", bytes.NewReader(payload), &resp); err != nil {
		// Restart from a full snapshot after any failed poll.
		m.epoch = 0
		return nil, err
	}
	m.epoch = resp.Stats.Epoch

	flights := make([]mm2Flight, 0, len(resp.Stats.Flights))
	for _, raw := range resp.Stats.Flights {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var fl mm2Flight
		if err := json.Unmarshal(raw, &fl); err != nil {
			serviceLogger.Warn("skipping malformed flight entry", "service", "mm2", "error", err)
			continue
		}
		flights = append(flights, fl)
	}
	return flights, nil
}

// QueryLiveFlights returns the reports that changed since the last poll.
func (m *ModeSMixer) QueryLiveFlights(filterIncomplete bool) ([]PositionReport, error) {
	flights, err := m.getFlightInfo()
	if err != nil {
		return nil, err
	}

	reports := make([]PositionReport, 0, len(flights))
	for _, fl := range flights {
		if fl.ICAO24 == "" {
			continue
		}
		report := PositionReport{
			ICAO24:   fl.ICAO24,
			Lat:      fl.Lat,
			Lon:      fl.Lon,
			Alt:      fl.Alt,
			Track:    fl.Track,
			Callsign: fl.Callsign,
		}
		if keepReport(&report, filterIncomplete) {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
