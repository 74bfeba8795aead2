package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
)

// Hub fans engine events and stats updates out to WebSocket clients. It
// implements common.EventSink, so the switcher, alert manager, scaler, and
// recovery manager publish straight into it. Writes are serialized under
// the hub lock; a client that fails a write is dropped on the spot.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Publish implements common.EventSink
func (h *Hub) Publish(event common.Event) {
	h.Broadcast(map[string]interface{}{
		"type":  "event",
		"event": event,
		"time":  time.Now(),
	})
}

// Broadcast sends one message to every connected client
func (h *Hub) Broadcast(message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if err := client.WriteJSON(message); err != nil {
			h.logger.Debug("Dropping WebSocket client", zap.Error(err))
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// send writes to a single client under the hub lock, keeping the one
// writer per connection contract.
func (h *Hub) send(conn *websocket.Conn, message interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return conn.WriteJSON(message)
}

// closeAll disconnects every client during shutdown
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
