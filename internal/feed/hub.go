// Package feed streams belt and navigation events to WebSocket clients.
package feed

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 100 * time.Millisecond
	backlog      = 64
)

// Message is one JSON frame sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans messages out to every connected client. A single goroutine does
// all writes; clients that fail a write are dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool

	msgs chan Message
	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub returns a running hub.
func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
		msgs:    make(chan Message, backlog),
		done:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// ServeHTTP upgrades the request and keeps the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("[FEED] upgrade failed", "error", err)
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	slog.Debug("[FEED] client connected", "remote", conn.RemoteAddr())

	// Clients only listen; reading detects when they leave.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the backlog
// is full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case <-h.done:
	case h.msgs <- msg:
	default:
		slog.Debug("[FEED] backlog full, message dropped", "type", msg.Type)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the writer.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	conns := h.snapshotLocked()
	h.clients = map[*websocket.Conn]struct{}{}
	h.mu.Unlock()

	h.wg.Wait()
	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.msgs:
			h.mu.Lock()
			conns := h.snapshotLocked()
			h.mu.Unlock()
			for _, c := range conns {
				c.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := c.WriteJSON(msg); err != nil {
					slog.Debug("[FEED] write failed, dropping client", "error", err)
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) snapshotLocked() []*websocket.Conn {
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	return conns
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.Close()
	}
}
