package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"simhost/events"
	"simhost/shared"
	"simhost/simclock"
)

const (
	wsSendBuffer   = 32
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// wsClient is one connected websocket viewer
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan shared.Frame
}

// Hub fans state changes and step signals out to websocket clients
type Hub struct {
	log          *slog.Logger
	clock        *simclock.Clock
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration // a client silent for this long is dropped

	mu      sync.Mutex
	clients map[string]*wsClient
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger, clock *simclock.Clock) *Hub {
	return &Hub{
		log:   log,
		clock: clock,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow connections from any origin
			},
		},
		pingInterval: wsPingInterval,
		pongWait:     wsPongWait,
		clients:      make(map[string]*wsClient),
	}
}

// OnEventRaised broadcasts a state change to every client.
func (h *Hub) OnEventRaised(rec shared.StateChangeRecord) error {
	h.broadcast(shared.Frame{Type: shared.FrameStateChanged, Record: &rec, Timestamp: time.Now()})
	return nil
}

// Attach registers the hub on the state channel and, when stepChannel is not
// empty, on the step channel.
func (h *Hub) Attach(dir *events.Directory, stateChannel, stepChannel string) error {
	stateCh, err := events.GetChannel[shared.StateChangeRecord](dir, stateChannel)
	if err != nil {
		return err
	}
	stateCh.Register(h)

	if stepChannel == "" {
		return nil
	}
	stepCh, err := events.GetChannel[shared.Void](dir, stepChannel)
	if err != nil {
		return err
	}
	stepCh.Register(events.NewListener(func(shared.Void) error {
		st := h.clock.Status()
		h.broadcast(shared.Frame{Type: shared.FrameStep, Status: &st, Timestamp: time.Now()})
		return nil
	}))
	return nil
}

// ServeWS upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", slog.String("err", err.Error()))
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan shared.Frame, wsSendBuffer),
	}
	st := h.clock.Status()
	c.send <- shared.Frame{Type: shared.FrameHello, ClientID: c.id, Status: &st, Timestamp: time.Now()}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client connected", slog.String("client_id", c.id), slog.Int("clients", count))

	go h.writePump(c)
	h.readPump(c)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) broadcast(f shared.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- f:
		default:
			h.log.Warn("websocket client lagging, frame dropped", slog.String("client_id", id))
		}
	}
}

// readPump discards client messages; its only job is noticing disconnects,
// including peers that stop answering pings.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(f); err != nil {
				h.log.Warn("websocket write failed", slog.String("client_id", c.id), slog.String("err", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Warn("websocket ping failed", slog.String("client_id", c.id), slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("websocket client disconnected", slog.String("client_id", c.id), slog.Int("clients", count))
}
