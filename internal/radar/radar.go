// Package radar provides the live feed interface and one adapter per
// supported radar server protocol.
package radar

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/skyspy/flightradar-go/internal/errors"
	"github.com/skyspy/flightradar-go/internal/logging"
)

var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("radar")
}

// PositionReport is one normalized live report from the feed. It lives for a
// single update cycle and is never persisted verbatim. Optional fields are
// nil when the feed did not carry them.
type PositionReport struct {
	ICAO24      string
	Lat         *float64
	Lon         *float64
	Alt         *int
	GroundSpeed *float64
	Track       *float64
	Callsign    string
}

// HasPosition reports whether the report carries both coordinates.
func (p *PositionReport) HasPosition() bool {
	return p.Lat != nil && p.Lon != nil
}

// Service is the live feed port. QueryLiveFlights returns the current batch
// of position reports; with filterIncomplete set, reports without positional
// information are dropped at the source. A failed poll returns an error and
// is treated as an empty batch by the caller.
type Service interface {
	QueryLiveFlights(filterIncomplete bool) ([]PositionReport, error)
	IsAlive() bool
}

// baseService carries the HTTP plumbing shared by all protocol adapters:
// base URL, basic auth taken from the URL userinfo, and a liveness flag
// flipped on each poll outcome.
type baseService struct {
	baseURL   string
	authUser  string
	authPass  string
	client    *http.Client
	alive     atomic.Bool
	component string
}

func newBaseService(rawURL string, timeout time.Duration, component string) (*baseService, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryConfiguration).
			Context("url", rawURL).
			Build()
	}

	bs := &baseService{
		client:    &http.Client{Timeout: timeout},
		component: component,
	}

	if parsed.User != nil {
		bs.authUser = parsed.User.Username()
		bs.authPass, _ = parsed.User.Password()
		parsed.User = nil
	}
	bs.baseURL = strings.TrimRight(parsed.String(), "/")
	bs.alive.Store(true)

	return bs, nil
}

// IsAlive reports whether the last poll succeeded.
func (bs *baseService) IsAlive() bool {
	return bs.alive.Load()
}

// doJSON performs one request against the feed and decodes the JSON response
// into out. The liveness flag tracks the outcome.
func (bs *baseService) doJSON(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, bs.baseURL+path, body)
	if err != nil {
		return errors.New(err).
			Component(bs.component).
			Category(errors.CategoryNetwork).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bs.authUser != "" {
		req.SetBasicAuth(bs.authUser, bs.authPass)
	}

	resp, err := bs.client.Do(req)
	if err != nil {
		bs.alive.Store(false)
		return errors.New(err).
			Component(bs.component).
			Category(errors.CategoryNetwork).
			Context("url", bs.baseURL+path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bs.alive.Store(false)
		return errors.Newf("unexpected status %d from radar server", resp.StatusCode).
			Component(bs.component).
			Category(errors.CategoryNetwork).
			Context("url", bs.baseURL+path).
			Build()
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		bs.alive.Store(false)
		return errors.New(fmt.Errorf("decoding radar response: %w", err)).
			Component(bs.component).
			Category(errors.CategoryNetwork).
			Build()
	}

	bs.alive.Store(true)
	return nil
}

// keepReport applies the shared inclusion rule: a report is useful when it
// has positional data, or a callsign when incomplete reports are allowed.
func keepReport(report *PositionReport, filterIncomplete bool) bool {
	if report.HasPosition() || report.Alt != nil {
		return true
	}
	return !filterIncomplete && report.Callsign != ""
}
