package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/charles/internal/session"
)

// WebSocketHub fans session updates out to connected clients and routes
// their user text and cancel requests to the session.
type WebSocketHub struct {
	clients    map[clientInterface]bool
	broadcast  chan interface{}
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once

	controller SessionController
	origins    []string
	logger     *zap.Logger
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewWebSocketHub creates a new WebSocket hub. controller may be nil, in
// which case inbound messages are ignored. allowedOrigins are host patterns
// (path.Match syntax) accepted in addition to the request's own host.
func NewWebSocketHub(controller SessionController, allowedOrigins []string, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:    make(map[clientInterface]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan clientInterface),
		unregister: make(chan clientInterface),
		ctx:        ctx,
		cancel:     cancel,
		controller: controller,
		origins:    allowedOrigins,
		logger:     logger,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.Int("total", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.Int("total", count))

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("failed to marshal websocket message", zap.Error(err))
				continue
			}

			// Full Lock because slow clients are dropped from the map.
			h.mu.Lock()
			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, client)
					h.logger.Warn("dropping slow websocket client")
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.logger.Debug("websocket hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub. It is safe to call more than once.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		for client := range h.clients {
			close(client.getSendChannel())
			client.close()
		}
		h.clients = make(map[clientInterface]bool)
		h.mu.Unlock()
	})
}

// Broadcast sends a message to all connected clients. It never blocks.
func (h *WebSocketHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping message")
	}
}

// PublishSnapshot broadcasts update_chat and update_debug for snap. It has
// the signature session.Session.Subscribe expects.
func (h *WebSocketHub) PublishSnapshot(snap session.Snapshot) {
	for _, msg := range SnapshotMessages(snap) {
		h.Broadcast(msg)
	}
}

// Register adds a client to the hub. It returns false once the hub is stopped.
func (h *WebSocketHub) Register(client clientInterface) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(r, origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	// New clients start from the current state.
	if h.controller != nil {
		for _, msg := range SnapshotMessages(h.controller.Snapshot()) {
			if data, err := json.Marshal(msg); err == nil {
				client.send <- data
			}
		}
	}

	if !h.Register(client) {
		client.close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *WebSocketHub) originAllowed(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range h.origins {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}

// handleInbound routes one client message to the session.
func (h *WebSocketHub) handleInbound(data []byte) {
	if h.controller == nil {
		return
	}

	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("ignoring malformed websocket message", zap.Error(err))
		return
	}

	switch msg.Type {
	case MessageUserText:
		if err := h.controller.HandleUserText(h.ctx, msg.Text); err != nil {
			if !errors.Is(err, session.ErrEmptyText) {
				h.logger.Error("failed to handle user text", zap.Error(err))
			}
			h.Broadcast(OutboundMessage{Type: MessageError, Data: ErrorResponse{
				Error: err.Error(),
				Code:  http.StatusText(http.StatusBadRequest),
			}})
		}
	case MessageCancel:
		h.controller.Cancel()
	default:
		h.logger.Warn("ignoring unknown websocket message", zap.String("type", msg.Type))
	}
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// readPump reads client messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		typ, data, err := c.conn.Read(c.hub.ctx) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		if err != nil {
			return
		}
		if typ != websocket.MessageText { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			continue
		}
		c.hub.handleInbound(data)
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {}
