package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gocomet/delivery-tracking/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Role is the identity class of a connection.
type Role string

const (
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
)

// Client is one live connection. Identity is empty until the peer
// authenticates.
type Client struct {
	ID   string
	Role Role

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	identity      string
	subscriptions map[string]bool
	closed        bool
}

func newClient(hub *Hub, conn *websocket.Conn, role Role) *Client {
	return &Client{
		ID:            uuid.NewString(),
		Role:          role,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
}

// Identity returns the authenticated driver or customer id.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// ReadPump pumps messages from the connection to the hub until the peer goes
// away, then disconnects the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error",
					logger.Err(err),
					logger.String("client_id", c.ID),
				)
			}
			return
		}
		c.hub.handleMessage(c, message)
	}
}

// WritePump pumps queued messages to the connection and keeps it alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues a message. A full buffer drops it; a closed client ignores it.
func (c *Client) Send(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("Failed to marshal message",
			logger.Err(err),
			logger.String("client_id", c.ID),
		)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.logger.Warn("Client send buffer full",
			logger.String("client_id", c.ID),
			logger.String("message_type", msg.Type),
		)
		return false
	}
}

func (c *Client) sendError(message string) {
	c.Send(Message{Type: TypeError, Data: map[string]string{"message": message}})
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
