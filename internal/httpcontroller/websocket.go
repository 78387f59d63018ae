package httpcontroller

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/skyspy/flightradar-go/internal/tracker"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsPositionJSON struct {
	ICAO24   string   `json:"icao24"`
	Callsign string   `json:"callsign,omitempty"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Alt      *int     `json:"alt"`
	Track    *float64 `json:"track"`
}

// wsClient serializes writes to a single websocket connection. Notifier
// callbacks run on their own goroutines, so writes need the lock.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(positions map[uint]tracker.CachedPosition) error {
	payload := make(map[string]wsPositionJSON, len(positions))
	for id, pos := range positions {
		payload[strconv.FormatUint(uint64(id), 10)] = wsPositionJSON{
			ICAO24:   pos.ICAO24,
			Callsign: pos.Callsign,
			Lat:      pos.Lat,
			Lon:      pos.Lon,
			Alt:      pos.Alt,
			Track:    pos.Track,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(payload)
}

// handleWebSocket upgrades the connection, sends the current live view and
// subscribes the client to position change notifications. A failed write
// unregisters the subscriber through the notifier's error path.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		serviceLogger.Warn("websocket upgrade failed", "remote", c.RealIP(), "error", err)
		return err
	}

	client := &wsClient{conn: conn}
	serviceLogger.Info("websocket client connected", "remote", c.RealIP())

	if err := client.send(s.Provider.GetCachedFlights()); err != nil {
		serviceLogger.Warn("websocket initial snapshot failed", "remote", c.RealIP(), "error", err)
		conn.Close()
		return nil
	}

	handle := s.Provider.RegisterSubscriber(client.send)

	// Read loop detects the client going away. We never expect inbound
	// payloads, so anything but an error is discarded.
	go func() {
		defer func() {
			s.Provider.UnregisterSubscriber(handle)
			conn.Close()
			serviceLogger.Info("websocket client disconnected", "remote", c.RealIP())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}
