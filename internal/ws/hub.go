package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

const writeWait = 10 * time.Second

// client serializes writes; gorilla connections allow one writer at a time.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket connections for the live preview and clip events
type Hub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates a new hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
		logger:  logger.With("component", "ws"),
	}
}

// register adds a connection
func (h *Hub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{conn: conn}
	h.clients[conn] = c
	h.logger.Info("client registered", "remote", conn.RemoteAddr().String(), "total", len(h.clients))
	return c
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Info("client unregistered", "remote", conn.RemoteAddr().String(), "total", len(h.clients))
	}
}

// HasClients returns true if anyone is connected
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a text message to every client, dropping the ones that fail
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.logger.Debug("send failed, dropping client", "remote", c.conn.RemoteAddr().String(), "error", err)
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

func (h *Hub) broadcastJSON(v any) error {
	if !h.HasClients() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	h.Broadcast(data)
	return nil
}

// BroadcastFrame sends a video frame to subscribers (for live streaming)
func (h *Hub) BroadcastFrame(msg *FrameMessage) {
	if err := h.broadcastJSON(msg); err != nil {
		h.logger.Error("failed to broadcast frame", "error", err)
	}
}

// BroadcastClip announces a new clip to subscribers
func (h *Hub) BroadcastClip(msg *ClipMessage) error {
	return h.broadcastJSON(msg)
}

// Name identifies the hub as a notification listener.
func (h *Hub) Name() string { return "websocket" }

// Notify forwards a clip notification to connected clients.
func (h *Hub) Notify(ctx context.Context, n handoff.Notification) error {
	return h.BroadcastClip(NewClipMessage(n))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*client)
	h.mu.Unlock()

	for conn, c := range clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
	}
}
