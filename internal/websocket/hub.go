package websocket

import (
	"context"
	"sync"

	"github.com/viora/downloader/internal/download"
	"github.com/viora/downloader/internal/logger"
)

const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts task updates to
// them. It implements download.Notifier.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast channel for task updates
	broadcast chan *ProgressMessage

	// Closed when Run returns
	done chan struct{}

	mu  sync.RWMutex
	log *logger.Logger
}

// ProgressMessage is one task update sent to clients.
type ProgressMessage struct {
	Type string                `json:"type"`
	Task download.TaskSnapshot `json:"task"`
}

const MessageTaskUpdate = "task_update"

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *ProgressMessage, broadcastBuffer),
		done:       make(chan struct{}),
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message.Task.ID) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, close the connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// add registers a client. It reports false once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Notify queues a snapshot for broadcast. It never blocks; updates are
// dropped while the broadcast buffer is full.
func (h *Hub) Notify(snap download.TaskSnapshot) {
	select {
	case h.broadcast <- &ProgressMessage{Type: MessageTaskUpdate, Task: snap}:
	default:
		h.log.Warn(context.Background(), "broadcast buffer full, dropping update", map[string]interface{}{
			"task_id": snap.ID,
			"status":  string(snap.Status),
		})
	}
}

// TotalClients returns the number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
