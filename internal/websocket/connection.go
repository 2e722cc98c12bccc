package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a WebSocket connection with a single writer goroutine.
// All writes go through writeCh so concurrent broadcasts never race on the
// underlying connection.
type Connection struct {
	conn         *websocket.Conn
	connectionID string             // server-assigned, immutable
	writeCh      chan []byte        // buffered so broadcasts don't block the event loop
	sessionID    string             // set after a join-session was accepted
	role         string             // "A", "B", or "" for members without a slot
	writeTimeout time.Duration
	ctx          context.Context    // for cancellation
	cancel       context.CancelFunc // for cleanup
	closeOnce    sync.Once          // ensure single close
	mu           sync.RWMutex       // protects membership fields
}

// NewConnection creates a connection wrapper and starts its writer.
func NewConnection(conn *websocket.Conn, connectionID string) *Connection {
	return NewConnectionTuned(conn, connectionID, defaultWriteBuffer, defaultWriteTimeout)
}

// NewConnectionTuned creates a connection wrapper with explicit write
// buffering and timeout.
func NewConnectionTuned(conn *websocket.Conn, connectionID string, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultWriteBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		connectionID: connectionID,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	// A transport failure ends this loop; cancelling makes subsequent
	// WriteJSON calls fail with ErrConnectionClosed instead of queueing
	// into a dead writer. The channel itself is never closed.
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for delivery. Thread-safe.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the connection. Safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// GetConnectionID returns the server-assigned connection identity.
func (c *Connection) GetConnectionID() string {
	return c.connectionID
}

// SetMembership records the session and slot assigned at join time.
func (c *Connection) SetMembership(sessionID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = sessionID
	c.role = role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
