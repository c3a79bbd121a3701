package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/turnstile/internal/domain"
	"github.com/soyeahso/turnstile/internal/logging"
)

// ErrClientClosed is returned when sending to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

// Client is one stream connection.
type Client struct {
	ConnID      string
	SessionID   string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	seq    int64
	closed bool
	log    *logging.Logger
}

// NewClient wraps an upgraded connection for sessionID.
func NewClient(conn *websocket.Conn, sessionID string, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		SessionID:   sessionID,
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// Send writes a frame, stamping the next sequence number. Thread-safe.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.seq++
	f.Seq = c.seq
	return c.Socket.WriteJSON(f)
}

// ReadRequest reads the advance request that opens a stream.
func (c *Client) ReadRequest(timeout time.Duration) (domain.AdvanceRequest, error) {
	var req domain.AdvanceRequest
	if timeout > 0 {
		c.Socket.SetReadDeadline(time.Now().Add(timeout))
		defer c.Socket.SetReadDeadline(time.Time{})
	}
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return req, fmt.Errorf("reading request: %w", err)
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return req, domain.Validation("body", "invalid JSON: %v", err)
	}
	return req, nil
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.Socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.Socket.Close()
}

// ClientRegistry tracks open stream connections.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Debug().Str("connId", c.ConnID).Str("session", c.SessionID).Msg("stream opened")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Debug().Str("connId", connID).Msg("stream closed")
}

// Count returns the number of open streams.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every open stream.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
