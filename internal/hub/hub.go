package hub

import (
	"expvar"
	"log"
	"sync"

	"github.com/google/uuid"
)

const defaultBuffer = 16

var (
	messagesSent    = expvar.NewInt("hub_messages_total")
	messagesDropped = expvar.NewInt("hub_messages_dropped_total")
	subscribers     = expvar.NewInt("hub_subscribers")
)

// Client is one connected viewer. Send is closed by Unregister.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub tracks connected viewers. Publishing never blocks on a slow viewer:
// a full buffer drops the message for that viewer only.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  int
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{clients: make(map[string]*Client), buffer: buffer}
}

// NewClient allocates a client with the hub's buffer size. It is not
// registered yet.
func (h *Hub) NewClient() *Client {
	return &Client{ID: uuid.NewString(), Send: make(chan []byte, h.buffer)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	subscribers.Set(int64(len(h.clients)))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	subscribers.Set(int64(len(h.clients)))
}

// Broadcast hands payload to every registered client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		deliver(client, payload)
	}
}

// SendTo hands payload to one client. It reports false when the client is
// not registered.
func (h *Hub) SendTo(clientID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok {
		return false
	}
	deliver(client, payload)
	return true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver never blocks. Every payload is a full snapshot, so on a full
// buffer the oldest queued one is discarded and the newest kept.
func deliver(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
		messagesSent.Add(1)
		return
	default:
	}

	select {
	case <-client.Send:
		messagesDropped.Add(1)
		log.Printf("drop stale message for client %s", client.ID)
	default:
	}

	select {
	case client.Send <- payload:
		messagesSent.Add(1)
	default:
		messagesDropped.Add(1)
		log.Printf("drop message for client %s", client.ID)
	}
}
