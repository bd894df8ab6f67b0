// Package broadcast pushes events and statistics to connected overlay
// clients over websockets.
package broadcast

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds a single frame write so a stale connection cannot
	// stall its writer forever
	WriteTimeout = 2 * time.Second

	// SendQueueSize is the per-client backlog. A client that falls this far
	// behind is dropped.
	SendQueueSize = 64

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var (
	ErrHubClosed    = errors.New("broadcast hub is closed")
	ErrClientClosed = errors.New("client is disconnected")
)

// Message is the frame sent to overlays
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client is one connected overlay
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the client has been removed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ConnectHandler runs for every new client before it receives broadcasts
type ConnectHandler func(c *Client)

// Hub tracks connected clients and fans frames out to them
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	closed    bool
	onConnect ConnectHandler
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// overlays are browser sources on the local machine
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With().Str("component", "broadcast").Logger(),
	}
}

// OnConnect sets the handler used to greet new clients
func (h *Hub) OnConnect(fn ConnectHandler) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// ServeWS upgrades the request and serves the client until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &Client{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, SendQueueSize),
		done: make(chan struct{}),
	}

	// The greeting is queued before the client joins the fan-out so it is
	// always the first frame
	h.mu.RLock()
	greet := h.onConnect
	h.mu.RUnlock()
	if greet != nil {
		greet(c)
	}
	select {
	case <-c.done:
		return
	default:
	}

	if err := h.add(c); err != nil {
		conn.Close()
		return
	}
	go h.writePump(c)

	h.readPump(c)
}

func (h *Hub) add(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Str("clientId", c.ID).Int("totalClients", n).Msg("Overlay connected")
	return nil
}

// remove drops c from the hub and closes its connection
func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, exists := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})

	if exists {
		h.logger.Info().Str("clientId", c.ID).Str("reason", reason).Int("totalClients", n).Msg("Overlay disconnected")
	}
}

// readPump consumes client frames (overlays never send anything meaningful)
// and detects disconnects
func (h *Hub) readPump(c *Client) {
	defer h.remove(c, "read closed")

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the connection
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug().Str("clientId", c.ID).Err(err).Msg("Write failed, dropping client")
				h.remove(c, "write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c, "ping failed")
				return
			}
		}
	}
}

func encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data})
}

// Broadcast queues a frame for every connected client. Clients whose queue
// is full are dropped.
func (h *Hub) Broadcast(msgType string, data interface{}) error {
	frame, err := encode(msgType, data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal broadcast")
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range clients {
		if !enqueue(c, frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn().Str("clientId", c.ID).Int("queue", SendQueueSize).Msg("Overlay too slow, dropping")
		h.remove(c, "send queue full")
	}

	h.logger.Debug().Str("type", msgType).Int("clients", len(clients)).Msg("Broadcast")
	return nil
}

// Send queues a frame for a single client
func (h *Hub) Send(c *Client, msgType string, data interface{}) error {
	frame, err := encode(msgType, data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if !enqueue(c, frame) {
		h.remove(c, "send queue full")
		return ErrClientClosed
	}
	return nil
}

func enqueue(c *Client, frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(WriteTimeout))
		}
		h.remove(c, "hub closed")
	}
}
