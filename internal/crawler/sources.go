package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/errors"
)

// Source is one external aircraft metadata database. Lookup returns nil
// without an error when the source has no record for the address.
type Source interface {
	Name() string
	Accept(icao24 string) bool
	Lookup(icao24 string) (*datastore.Aircraft, error)
}

// statusError carries the HTTP status of a failed source request so the
// crawler can decide between retry and give-up.
type statusError struct {
	source string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.source, e.code)
}

// isRetryable reports whether a lookup failure is worth retrying later.
// Rate limiting and server errors are transient; other HTTP errors are not.
// Anything that is not a statusError counts as a network error and retries.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

const sourceTimeout = 5 * time.Second

func getJSON(client *http.Client, sourceName, url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return errors.New(err).
			Component("crawler").
			Category(errors.CategoryNetwork).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(client, sourceName, req, out)
}

func postJSON(client *http.Client, sourceName, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.New(err).
			Component("crawler").
			Category(errors.CategoryValidation).
			Build()
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.New(err).
			Component("crawler").
			Category(errors.CategoryNetwork).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return doJSON(client, sourceName, req, out)
}

func doJSON(client *http.Client, sourceName string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return errors.New(err).
			Component("crawler").
			Category(errors.CategoryNetwork).
			Context("source", sourceName).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.New(&statusError{source: sourceName, code: resp.StatusCode}).
			Component("crawler").
			Category(errors.CategoryHTTP).
			Context("source", sourceName).
			Build()
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(fmt.Errorf("decoding %s response: %w", sourceName, err)).
			Component("crawler").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// HexDB queries the hexdb.io aircraft database.
type HexDB struct {
	baseURL string
	client  *http.Client
}

// NewHexDB returns a hexdb.io source.
func NewHexDB() *HexDB {
	return &HexDB{
		baseURL: "https://hexdb.io",
		client:  &http.Client{Timeout: sourceTimeout},
	}
}

func (h *HexDB) Name() string { return "hexdb.io" }

func (h *HexDB) Accept(icao24 string) bool { return true }

type hexdbAircraft struct {
	ModeS            string `json:"ModeS"`
	Registration     string `json:"Registration"`
	ICAOTypeCode     string `json:"ICAOTypeCode"`
	Manufacturer     string `json:"Manufacturer"`
	Type             string `json:"Type"`
	RegisteredOwners string `json:"RegisteredOwners"`
}

// Lookup fetches one record. A 404 means the address is unknown to hexdb
// and is not an error.
func (h *HexDB) Lookup(icao24 string) (*datastore.Aircraft, error) {
	var data hexdbAircraft
	url := fmt.Sprintf("%s/api/v1/aircraft/%s", h.baseURL, icao24)
	if err := getJSON(h.client, h.Name(), url, &data); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	typeName := data.Type
	if data.Manufacturer != "" {
		if typeName == "" {
			typeName = data.Manufacturer
		} else if !strings.HasPrefix(typeName, data.Manufacturer) {
			typeName = data.Manufacturer + " " + typeName
		}
	}

	if data.Registration == "" && data.ICAOTypeCode == "" && typeName == "" {
		return nil, nil
	}

	return &datastore.Aircraft{
		ICAO24:       strings.ToUpper(firstNonEmpty(data.ModeS, icao24)),
		Registration: data.Registration,
		TypeCode:     data.ICAOTypeCode,
		TypeName:     typeName,
		Operator:     data.RegisteredOwners,
		Source:       h.Name(),
	}, nil
}

// OpenSky queries the OpenSky Network metadata API.
type OpenSky struct {
	baseURL string
	client  *http.Client
}

// NewOpenSky returns an OpenSky Network source.
func NewOpenSky() *OpenSky {
	return &OpenSky{
		baseURL: "https://opensky-network.org",
		client:  &http.Client{Timeout: sourceTimeout},
	}
}

func (o *OpenSky) Name() string { return "opensky" }

func (o *OpenSky) Accept(icao24 string) bool { return true }

type openSkyAircraft struct {
	ICAO24           string `json:"icao24"`
	Registration     string `json:"registration"`
	TypeCode         string `json:"typecode"`
	Operator         string `json:"operator"`
	ManufacturerName string `json:"manufacturerName"`
	Model            string `json:"model"`
}

func (o *OpenSky) Lookup(icao24 string) (*datastore.Aircraft, error) {
	var data openSkyAircraft
	url := fmt.Sprintf("%s/api/metadata/aircraft/icao/%s", o.baseURL, icao24)
	if err := getJSON(o.client, o.Name(), url, &data); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	if data.Registration == "" || data.TypeCode == "" || data.Model == "" {
		return nil, nil
	}

	typeName := data.Model
	if data.ManufacturerName != "" && !strings.HasPrefix(data.Model, data.ManufacturerName) {
		typeName = data.ManufacturerName + " " + data.Model
	}

	return &datastore.Aircraft{
		ICAO24:       strings.ToUpper(firstNonEmpty(data.ICAO24, icao24)),
		Registration: data.Registration,
		TypeCode:     data.TypeCode,
		TypeName:     typeName,
		Operator:     data.Operator,
		Source:       o.Name(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
