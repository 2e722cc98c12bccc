package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"tandem/internal/hub"
	"tandem/pkg/types"
)

// WebSocket upgrader shared across handler instances.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Both participants connect from arbitrary devices (one joins by
		// scanning a QR code), so origins are not restricted here.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Default transport tuning. The read deadline is double the ping interval
// so one lost pong does not drop an otherwise healthy connection.
const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultWriteBuffer  = 100
)

// Config tunes the realtime transport.
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultConfig returns production transport tuning.
func DefaultConfig() Config {
	return Config{
		PingInterval: defaultPingInterval,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		BufferSize:   defaultWriteBuffer,
	}
}

// Handler accepts WebSocket connections and feeds their events to the hub.
type Handler struct {
	registry *Registry
	eventHub *hub.Hub
	config   Config
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, eventHub *hub.Hub, config Config) *Handler {
	defaults := DefaultConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}

	return &Handler{
		registry: registry,
		eventHub: eventHub,
		config:   config,
	}
}

// HandleWebSocket upgrades the request and starts the connection lifecycle.
// No parameters are required; session membership is negotiated afterwards
// through the join-session event.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnectionTuned(wsConn, uuid.New().String(), h.config.BufferSize, h.config.WriteTimeout)

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	log.Printf("Connection accepted: id=%s remote=%s", conn.GetConnectionID(), r.RemoteAddr)

	go h.handleConnection(conn)
}

// handleConnection runs the read loop and heartbeat for one connection.
// A disconnect, clean or not, is the leave signal for the session.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.eventHub.Disconnect(conn); err != nil {
			log.Printf("Failed to queue disconnect for %s: %v", conn.GetConnectionID(), err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.GetConnectionID(), err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var envelope types.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
			h.sendError(conn, types.ErrInvalidEnvelope.Error())
			continue
		}

		if err := h.eventHub.Submit(conn, &envelope); err != nil {
			log.Printf("Failed to submit %s from %s: %v", envelope.Event, conn.GetConnectionID(), err)
			h.sendError(conn, "server busy, event dropped")
		}
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	envelope, err := types.NewEnvelope(types.EventError, &types.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.GetConnectionID(), err)
	}
}
