package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-esol/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them.
// It also remembers the latest event of every live session so a client
// that joins late starts with a full picture.
type Hub struct {
	// Name for logging
	name   string
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Guards clients and sessions for readers outside Run
	mu       sync.RWMutex
	sessions map[string]protocol.SessionEvent

	running atomic.Bool
}

// New creates a new Hub
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sessions:   make(map[string]protocol.SessionEvent),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing
// every client. It should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.replay(client)
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's buffer is full, they're too slow
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// replay queues the latest event of every live session. Called with mu
// held, before the client joins the broadcast set.
func (h *Hub) replay(client *Client) {
	for _, ev := range h.sortedSessions() {
		msg, err := eventMessage(ev)
		if err != nil {
			continue
		}
		select {
		case client.send <- msg:
		default:
			return
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Publish records ev as the latest state of its session and broadcasts it.
// A disconnected event forgets the session.
func (h *Hub) Publish(ev protocol.SessionEvent) error {
	msg, err := eventMessage(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if ev.Event == protocol.EventDisconnected {
		delete(h.sessions, ev.SessionID)
	} else {
		h.sessions[ev.SessionID] = ev
	}
	h.mu.Unlock()

	h.Broadcast(msg)
	return nil
}

// Sessions returns the latest event of every live session, ordered by
// session ID.
func (h *Hub) Sessions() []protocol.SessionEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedSessions()
}

func (h *Hub) sortedSessions() []protocol.SessionEvent {
	out := make([]protocol.SessionEvent, 0, len(h.sessions))
	for _, ev := range h.sessions {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
