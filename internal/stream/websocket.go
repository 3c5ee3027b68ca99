package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/timeutil"
)

var logWS = monitoring.Component("ws")

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub serves live views over websockets. Each message is one JSON view.
type Hub struct {
	viewer
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// NewHub creates a hub over sess. A nil clock uses the real one.
func NewHub(sess *session.Session, clock timeutil.Clock) *Hub {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Hub{
		viewer: viewer{sess: sess, clock: clock},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Dashboards embed the stream from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int64 { return h.clients.Load() }

// client serialises writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	if c == nil || c.conn == nil {
		return errors.New("client closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// ServeHTTP upgrades the request and streams views. The optional "sensor"
// query parameter filters to one sensor.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensor")
	if sensorID != "" && !known(h.sess, sensorID) {
		httputil.NotFound(w, "unknown sensor "+sensorID)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logWS("upgrade failed: %v", err)
		return
	}
	h.clients.Add(1)
	defer h.clients.Add(-1)
	defer conn.Close()

	c := &client{conn: conn}
	id, frames := h.sess.Subscribe()
	defer h.sess.Unsubscribe(id)

	done := make(chan struct{})
	go h.readPump(conn, done)

	for _, f := range h.sess.Frames() {
		if wants(sensorID, f) {
			if err := h.send(c, f); err != nil {
				return
			}
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case f, ok := <-frames:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if !wants(sensorID, f) {
				continue
			}
			if err := h.send(c, f); err != nil {
				logWS("write failed: %v", err)
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logWS("read failed: %v", err)
			}
			return
		}
	}
}

func (h *Hub) send(c *client, f session.Frame) error {
	data, err := json.Marshal(h.view(f))
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}
