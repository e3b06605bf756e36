// Package websocket pushes change notifications to connected UI clients so
// list views refresh without polling.
package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/shelfware/shelfsyncgo/internal/notify"
)

// Hub maintains the set of active clients and broadcasts change
// notifications to all of them
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a hub; Run must be started on it
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
	}
}

// AttachBus forwards every store change onto the wire
func (h *Hub) AttachBus(bus *notify.Bus) {
	bus.SubscribeAll(func(change notify.Change) {
		h.Broadcast(map[string]interface{}{
			"type":      "CHANGE",
			"entity":    change.Entity,
			"entityId":  change.EntityID,
			"action":    change.Action,
			"timestamp": change.Timestamp,
		})
	})
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("📱 UI client connected (%d active)", h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("📴 UI client disconnected (%d active)", h.clientCount())

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client too slow, it will reconnect.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected client
func (h *Hub) Broadcast(message interface{}) {
	raw, err := json.Marshal(message)
	if err != nil {
		log.Printf("⚠️ Error marshaling broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- raw:
	default:
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
