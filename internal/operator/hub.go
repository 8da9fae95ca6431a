// Package operator is the bidirectional event channel to browser
// clients: telemetry and progress events fan out to every client, and
// inbound operator commands are handed to a dispatcher.
package operator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrifly-io/agrifly/internal/pkg/metrics"
	"github.com/agrifly-io/agrifly/pkg/log"
)

const (
	// clientQueueSize bounds each client's outbound queue; the oldest
	// event is dropped first when a client lags.
	clientQueueSize = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Event is one frame on the operator channel, in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Dispatcher handles inbound operator commands. Implementations must
// not block for long; slow work happens on the caller's goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, data json.RawMessage)
}

// Backfiller produces the events sent to a client right after connect.
type Backfiller func() []Event

// Hub owns the set of connected operator clients.
type Hub struct {
	logger     log.Logger
	upgrader   websocket.Upgrader
	dispatcher Dispatcher
	backfill   Backfiller

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// NewHub creates an empty Hub. The dispatcher and backfiller are
// attached before serving.
func NewHub() *Hub {
	return &Hub{
		logger: log.WithName("operator"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The dashboard is served from a different origin in dev.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// SetDispatcher attaches the inbound command handler.
func (h *Hub) SetDispatcher(d Dispatcher) { h.dispatcher = d }

// SetBackfiller attaches the on-connect backfill source.
func (h *Hub) SetBackfiller(b Backfiller) { h.backfill = b }

// Publish broadcasts one event to every connected client. It never
// blocks: a slow client loses its oldest queued events.
func (h *Hub) Publish(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error(err, "Operator event encode failed", "event", event)
		return
	}
	frame, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		h.logger.Error(err, "Operator frame encode failed", "event", event)
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		c.enqueue(frame)
	}
	h.mu.Unlock()
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP lets the hub mount directly on a router.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.ServeWS(w, r) }

// ServeWS upgrades one HTTP request and runs the client until it
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Operator upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
	}

	h.register(c)
	h.logger.Info("Operator client connected", "remote", r.RemoteAddr, "clients", h.Clients())

	// The client gets the current fleet state before live events.
	if h.backfill != nil {
		for _, ev := range h.backfill() {
			if frame, err := json.Marshal(ev); err == nil {
				c.enqueue(frame)
			}
		}
	}

	go h.writePump(c)
	h.readPump(r.Context(), c)

	h.unregister(c)
	h.logger.Info("Operator client disconnected", "remote", r.RemoteAddr, "clients", h.Clients())
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.OperatorClients.Set(float64(n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.OperatorClients.Set(float64(n))
	c.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	metrics.OperatorClients.Set(0)
}

// readPump decodes inbound frames and hands them to the dispatcher.
func (h *Hub) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Operator read failed", "error", err.Error())
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			h.logger.Warn("Operator frame rejected", "error", err.Error())
			continue
		}
		if ev.Event == "" {
			continue
		}
		if h.dispatcher != nil {
			h.dispatcher.Dispatch(ctx, ev.Event, ev.Data)
		}
	}
}

// writePump drains the client queue and keeps the connection alive.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue delivers one frame without blocking, dropping the oldest
// queued frame when the client lags.
func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- frame:
		return
	default:
	}

	select {
	case <-c.send:
		metrics.OperatorEventsDroppedTotal.Inc()
	default:
	}

	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}
