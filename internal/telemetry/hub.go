// Package telemetry is the agent's local observability surface: a WebSocket
// event hub, typed event structs, and prometheus metrics. The HTTP status
// server that exposes them lives in package app. It is strictly
// observational; the fleet controller remains the only writer of agent
// state.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout  = 3 * time.Second
	pingInterval  = 20 * time.Second
	clientTimeout = 60 * time.Second
)

// Hub fans survey events out to every connected WebSocket client. The most
// recent state event is retained and replayed to clients as they connect, so
// a watcher knows whether the survey is running without waiting for the next
// transition. All access goes through the Run loop's channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan hubMessage
	upgrader   websocket.Upgrader
}

type hubMessage struct {
	payload []byte
	retain  bool
}

// NewHub allocates a hub. Call Run in a goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan hubMessage, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations, broadcasts, and keepalive pings in a single
// select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var lastState []byte

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			if lastState != nil {
				h.write(c, lastState)
			}

		case c := <-h.unregister:
			delete(h.clients, c)
			_ = c.Close()

		case msg := <-h.broadcast:
			if msg.retain {
				lastState = msg.payload
			}
			for c := range h.clients {
				h.write(c, msg.payload)
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}
		}
	}
}

// write delivers one message, dropping the client on failure.
func (h *Hub) write(c *websocket.Conn, payload []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		delete(h.clients, c)
		_ = c.Close()
	}
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub. Clients are
// read-drained only; the event stream is one-way.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(clientTimeout))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(clientTimeout))
				return nil
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON queues v for delivery to all connected clients. When the
// broadcast buffer is full the message is dropped rather than blocking the
// survey path.
func (h *Hub) BroadcastJSON(v any) {
	h.send(v, false)
}

// BroadcastState queues a state event and retains it for future clients.
func (h *Hub) BroadcastState(v any) {
	h.send(v, true)
}

func (h *Hub) send(v any, retain bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- hubMessage{payload: b, retain: retain}:
	default:
	}
}
