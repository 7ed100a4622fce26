package tanks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/internal/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	clientSend = 32
)

type client struct {
	station string
	send    chan model.AlertEvent
}

// Hub pushes alert events to dashboard websocket clients. A client may
// restrict itself to one station with ?station=<id>.
type Hub struct {
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logger.New("ws-hub"),
		clients: map[*client]struct{}{},
	}
}

// Run forwards events from bus until ctx is done or the bus closes.
func (h *Hub) Run(ctx context.Context, bus *eventbus.TypedBus[model.AlertEvent]) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends ev to every matching client. Slow clients are
// disconnected rather than slowing the others down.
func (h *Hub) Broadcast(ev model.AlertEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.station != "" && c.station != ev.StationID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.log.Warnf("websocket client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams alert events as JSON.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade: %v", err)
		return
	}
	c := &client{station: r.URL.Query().Get("station"), send: make(chan model.AlertEvent, clientSend)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readPump(conn, c)
	h.writePump(conn, c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer h.remove(c)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
