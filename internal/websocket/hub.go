package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NotIan11/TechELO/internal/domain"
	"go.uber.org/zap"
)

// Message types
const (
	MessageTypeMatchEvent = "match_event"
	MessageTypeConnected  = "connected"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeError      = "error"
)

// ErrHubStopped is returned when delivering to a stopped hub
var ErrHubStopped = errors.New("websocket hub stopped")

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type delivery struct {
	recipients []string
	data       []byte
}

// Hub maintains the connected clients of each user and routes match events to them
type Hub struct {
	// Connected clients by user ID
	clients map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound events addressed to users
	deliver chan *delivery

	mu     sync.RWMutex
	logger *zap.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan *delivery, 256),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.userID]; !ok {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client_id", client.id), zap.String("user_id", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.userID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
				}
				if len(clients) == 0 {
					delete(h.clients, client.userID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client_id", client.id))

		case d := <-h.deliver:
			h.deliverMessage(d)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// closeAll drops every connection; the pumps exit on the resulting I/O errors
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.clients {
		for client := range clients {
			client.conn.Close()
		}
		delete(h.clients, userID)
	}
}

// deliverMessage sends a message to every connection of each recipient
func (h *Hub) deliverMessage(d *delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range d.recipients {
		for client := range h.clients[userID] {
			select {
			case client.send <- d.data:
			default:
				// Client's buffer is full, skip
				h.logger.Warn("client buffer full, skipping", zap.String("client_id", client.id))
			}
		}
	}
}

// DeliverEvent queues event for its recipients' local connections
func (h *Hub) DeliverEvent(ctx context.Context, event domain.MatchEvent) error {
	if h.ctx.Err() != nil {
		return ErrHubStopped
	}
	data, err := json.Marshal(Message{
		Type:      MessageTypeMatchEvent,
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	select {
	case h.deliver <- &delivery{recipients: event.Recipients, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("websocket delivery queue full")
	}
}

// Notify delivers event directly; used when no broker sits between instances
func (h *Hub) Notify(ctx context.Context, event domain.MatchEvent) error {
	return h.DeliverEvent(ctx, event)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		client.conn.Close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns how many connections userID has open
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
