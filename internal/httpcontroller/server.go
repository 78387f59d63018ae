// Package httpcontroller provides the HTTP and WebSocket serving surface:
// flight queries against the datastore, the live position view and the
// process health signal.
package httpcontroller

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/skyspy/flightradar-go/internal/conf"
	"github.com/skyspy/flightradar-go/internal/datastore"
	"github.com/skyspy/flightradar-go/internal/errors"
	"github.com/skyspy/flightradar-go/internal/logging"
	"github.com/skyspy/flightradar-go/internal/tracker"
)

var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("webserver")
}

// FlightProvider is the live-tracking surface the server exposes. It is
// implemented by the update coordinator.
type FlightProvider interface {
	GetCachedFlights() map[uint]tracker.CachedPosition
	RegisterSubscriber(cb tracker.SubscriberCallback) uuid.UUID
	UnregisterSubscriber(handle uuid.UUID) bool
	IsServiceAlive() bool
}

// Server encapsulates the Echo server and its dependencies.
type Server struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings
	Provider FlightProvider
}

// New initializes the HTTP server with routes and middleware.
func New(settings *conf.Settings, ds datastore.Interface, provider FlightProvider) *Server {
	s := &Server{
		Echo:     echo.New(),
		DS:       ds,
		Settings: settings,
		Provider: provider,
	}

	s.Echo.HideBanner = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/ws"
		},
	}))

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.Echo.GET("/healthz", s.handleHealth)

	v1 := s.Echo.Group("/api/v1")
	v1.GET("/flights", s.handleLiveFlights)
	v1.GET("/flights/:id", s.handleFlight)
	v1.GET("/flights/:id/positions", s.handleFlightPositions)
	v1.GET("/aircraft/:icao24", s.handleAircraft)

	s.Echo.GET("/ws", s.handleWebSocket)
}

// Start begins listening in its own goroutine and shuts down when quitChan
// closes.
func (s *Server) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := ":" + s.Settings.WebServer.Port
		serviceLogger.Info("web server starting", "address", addr)
		if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			serviceLogger.Error("web server error", "error", err)
		}
	}()

	go func() {
		<-quitChan
		serviceLogger.Info("stopping web server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Echo.Shutdown(ctx); err != nil {
			serviceLogger.Error("web server shutdown error", "error", err)
		}
	}()
}

type liveFlightJSON struct {
	ICAO24    string   `json:"icao24"`
	Callsign  string   `json:"callsign,omitempty"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Alt       *int     `json:"alt"`
	Track     *float64 `json:"track"`
	Timestamp int64    `json:"timestamp"`
}

// handleLiveFlights returns the current live view keyed by flight id. Ids
// travel as decimal strings on the wire.
func (s *Server) handleLiveFlights(c echo.Context) error {
	cached := s.Provider.GetCachedFlights()
	payload := make(map[string]liveFlightJSON, len(cached))
	for id, pos := range cached {
		payload[strconv.FormatUint(uint64(id), 10)] = liveFlightJSON{
			ICAO24:    pos.ICAO24,
			Callsign:  pos.Callsign,
			Lat:       pos.Lat,
			Lon:       pos.Lon,
			Alt:       pos.Alt,
			Track:     pos.Track,
			Timestamp: pos.Timestamp.Unix(),
		}
	}
	return c.JSON(http.StatusOK, payload)
}

type flightJSON struct {
	ID           string     `json:"id"`
	ICAO24       string     `json:"icao24"`
	Callsign     string     `json:"callsign,omitempty"`
	IsMilitary   bool       `json:"is_military"`
	FirstContact time.Time  `json:"first_contact"`
	LastContact  time.Time  `json:"last_contact"`
	ExpireAt     *time.Time `json:"expire_at,omitempty"`
}

func (s *Server) handleFlight(c echo.Context) error {
	id, err := parseFlightID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flight id")
	}

	flight, err := s.DS.GetFlight(id)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "flight not found")
		}
		serviceLogger.Error("flight query failed", "id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	return c.JSON(http.StatusOK, flightJSON{
		ID:           strconv.FormatUint(uint64(flight.ID), 10),
		ICAO24:       flight.ICAO24,
		Callsign:     flight.Callsign,
		IsMilitary:   flight.IsMilitary,
		FirstContact: flight.FirstContact,
		LastContact:  flight.LastContact,
		ExpireAt:     flight.ExpireAt,
	})
}

type positionJSON struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Alt       *int     `json:"alt"`
	Track     *float64 `json:"track"`
	Timestamp int64    `json:"timestamp"`
}

func (s *Server) handleFlightPositions(c echo.Context) error {
	id, err := parseFlightID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid flight id")
	}

	if _, err := s.DS.GetFlight(id); err != nil {
		if errors.IsCategory(err, errors.CategoryNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "flight not found")
		}
		serviceLogger.Error("flight query failed", "id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	positions, err := s.DS.GetFlightPositions(id)
	if err != nil {
		serviceLogger.Error("positions query failed", "id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	payload := make([]positionJSON, 0, len(positions))
	for i := range positions {
		payload = append(payload, positionJSON{
			Lat:       positions[i].Lat,
			Lon:       positions[i].Lon,
			Alt:       positions[i].Alt,
			Track:     positions[i].Track,
			Timestamp: positions[i].Timestamp.Unix(),
		})
	}
	return c.JSON(http.StatusOK, payload)
}

type aircraftJSON struct {
	ICAO24       string `json:"icao24"`
	Registration string `json:"registration,omitempty"`
	TypeCode     string `json:"type_code,omitempty"`
	TypeName     string `json:"type_name,omitempty"`
	Operator     string `json:"operator,omitempty"`
	Source       string `json:"source,omitempty"`
}

func (s *Server) handleAircraft(c echo.Context) error {
	icao24 := c.Param("icao24")

	aircraft, err := s.DS.GetAircraft(icao24)
	if err != nil {
		serviceLogger.Error("aircraft query failed", "icao24", icao24, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	if aircraft == nil {
		return echo.NewHTTPError(http.StatusNotFound, "aircraft not found")
	}

	return c.JSON(http.StatusOK, aircraftJSON{
		ICAO24:       aircraft.ICAO24,
		Registration: aircraft.Registration,
		TypeCode:     aircraft.TypeCode,
		TypeName:     aircraft.TypeName,
		Operator:     aircraft.Operator,
		Source:       aircraft.Source,
	})
}

// handleHealth reports feed liveness. A degraded feed answers 503 so load
// balancers and probes can react, but the process keeps serving.
func (s *Server) handleHealth(c echo.Context) error {
	alive := s.Provider.IsServiceAlive()
	status := http.StatusOK
	state := "ok"
	if !alive {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.JSON(status, map[string]any{
		"status":     state,
		"feed_alive": alive,
	})
}

func parseFlightID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
