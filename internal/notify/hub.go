package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Message is the envelope written to websocket clients and pub/sub.
type Message struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encode(room, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Message{Room: room, Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("notify: marshal %s: %w", event, err)
	}
	return data, nil
}

type delivery struct {
	room string
	data []byte
}

// Hub keeps websocket clients grouped by room and broadcasts to them. A
// single goroutine (Run) owns membership changes.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan delivery
	done       chan struct{}
}

// NewHub returns a Hub. Call Run before registering clients.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// Notify queues an event for every client in room.
func (h *Hub) Notify(ctx context.Context, room, event string, payload any) error {
	data, err := encode(room, event, payload)
	if err != nil {
		return err
	}
	return h.send(ctx, room, data)
}

// ErrStopped is returned once the hub's Run loop has exited.
var ErrStopped = errors.New("notify: hub stopped")

// send queues an already-encoded message.
func (h *Hub) send(ctx context.Context, room string, data []byte) error {
	select {
	case h.broadcast <- delivery{room: room, data: data}:
		return nil
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]bool)
		}
		h.rooms[room][c] = true
	}
	h.log.Debug("client registered", "user", c.user, "rooms", c.rooms)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(c)
}

// drop detaches c from every room and closes its send channel once.
// Callers hold h.mu.
func (h *Hub) drop(c *Client) {
	found := false
	for _, room := range c.rooms {
		if h.rooms[room][c] {
			found = true
			delete(h.rooms[room], c)
			if len(h.rooms[room]) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if found {
		close(c.send)
		h.log.Debug("client unregistered", "user", c.user)
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[d.room] {
		select {
		case c.send <- d.data:
		default:
			h.log.Warn("client send buffer full, disconnecting", "user", c.user)
			h.drop(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := map[*Client]bool{}
	for _, clients := range h.rooms {
		for c := range clients {
			seen[c] = true
		}
	}
	for c := range seen {
		h.drop(c)
	}
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount returns the number of distinct connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := map[*Client]bool{}
	for _, clients := range h.rooms {
		for c := range clients {
			seen[c] = true
		}
	}
	return len(seen)
}
