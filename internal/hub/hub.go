package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"tandem/pkg/interfaces"
	"tandem/pkg/types"
)

// GroupRegistry is the slice of the connection registry the hub needs:
// subscribing a connection to a session's broadcast group.
type GroupRegistry interface {
	JoinGroup(sessionID string, conn interfaces.Connection)
}

// Event wraps one inbound client envelope with its connection.
type Event struct {
	Conn     interfaces.Connection
	Envelope *types.Envelope
	Received time.Time
}

// Hub serializes all inbound realtime events through a single goroutine.
// Each event is handled to completion before the next one, which is what
// makes the session registry's mutations race-free without per-operation
// locking gymnastics: the hub is the sole writer.
type Hub struct {
	eventChannel      chan *Event
	disconnectChannel chan interfaces.Connection
	shutdownChannel   chan struct{}

	coordinator interfaces.SessionCoordinator
	groups      GroupRegistry
	limiter     *RateLimiter

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub.
func NewHub(coordinator interfaces.SessionCoordinator, groups GroupRegistry) *Hub {
	return &Hub{
		eventChannel:      make(chan *Event, 1000), // buffer absorbs submit bursts from many pairs
		disconnectChannel: make(chan interfaces.Connection, 100),
		shutdownChannel:   make(chan struct{}),
		coordinator:       coordinator,
		groups:            groups,
		limiter:           NewRateLimiter(),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting event hub...")

	go h.run(ctx)

	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping event hub...")

	select {
	case <-h.shutdownChannel:
		// Channel already closed
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Submit queues an inbound client event for processing. Non-blocking; a
// full channel is reported to the caller instead of stalling the reader.
func (h *Hub) Submit(conn interfaces.Connection, envelope *types.Envelope) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	event := &Event{
		Conn:     conn,
		Envelope: envelope,
		Received: time.Now(),
	}

	select {
	case h.eventChannel <- event:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Disconnect queues a connection's departure. The resulting leave is
// processed in emission order with the other events of its session.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.disconnectChannel <- conn:
		return nil
	default:
		return ErrDisconnectChannelFull
	}
}

// run is the main processing loop. Handler failures are contained per
// event; nothing here may panic the loop, since that would drop every
// other in-flight session.
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	cleanupTicker := time.NewTicker(time.Minute)
	defer cleanupTicker.Stop()

	for {
		select {
		case event := <-h.eventChannel:
			h.handleEvent(event)

		case conn := <-h.disconnectChannel:
			h.handleDisconnect(conn)

		case <-cleanupTicker.C:
			h.limiter.Cleanup()

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// handleEvent dispatches one client event to the session registry.
func (h *Hub) handleEvent(event *Event) {
	conn := event.Conn
	if conn == nil || event.Envelope == nil {
		return
	}

	if !h.limiter.Allow(conn.GetConnectionID()) {
		h.sendError(conn, "rate limit exceeded")
		return
	}

	switch event.Envelope.Event {
	case types.EventJoinSession:
		h.handleJoin(conn, event.Envelope.Payload)

	case types.EventFormProgress:
		sessionID, role, ok := h.membership(conn)
		if !ok {
			return
		}
		data, err := decodeFormPayload(event.Envelope.Payload)
		if err != nil {
			h.sendError(conn, "invalid form payload")
			return
		}
		h.coordinator.ReportProgress(sessionID, role, data)

	case types.EventFormCompleted:
		sessionID, role, ok := h.membership(conn)
		if !ok {
			return
		}
		data, err := decodeFormPayload(event.Envelope.Payload)
		if err != nil {
			h.sendError(conn, "invalid form payload")
			return
		}
		h.coordinator.ReportCompleted(sessionID, role, data)

	case types.EventConfirmSend:
		sessionID, role, ok := h.membership(conn)
		if !ok {
			return
		}
		h.coordinator.ReportConfirmed(sessionID, role)

	default:
		h.sendError(conn, "unknown event: "+event.Envelope.Event)
	}
}

// handleJoin validates the join request, subscribes the connection to the
// session's broadcast group and asks the registry for a slot.
func (h *Hub) handleJoin(conn interfaces.Connection, payload json.RawMessage) {
	var join types.JoinPayload
	if err := json.Unmarshal(payload, &join); err != nil {
		h.sendError(conn, "invalid join payload")
		return
	}

	if !types.IsValidSessionID(join.SessionID) {
		h.sendError(conn, types.ErrInvalidSessionID.Error())
		return
	}

	if conn.GetSessionID() != "" {
		// One session per connection; rejoining requires a new connection
		h.sendError(conn, "connection already joined a session")
		return
	}

	// Group membership is granted regardless of whether a slot is free, so
	// even a null-role joiner observes subsequent status broadcasts.
	h.groups.JoinGroup(join.SessionID, conn)
	role := h.coordinator.Join(join.SessionID, conn.GetConnectionID())
	conn.SetMembership(join.SessionID, role)
}

// handleDisconnect releases the connection's slot, if it held one.
func (h *Hub) handleDisconnect(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	h.limiter.Forget(conn.GetConnectionID())

	if sessionID := conn.GetSessionID(); sessionID != "" {
		h.coordinator.Leave(sessionID, conn.GetConnectionID())
	}
}

// membership resolves the connection's session and slot. Events from
// connections without a slot are answered with an error instead of being
// guessed at.
func (h *Hub) membership(conn interfaces.Connection) (sessionID, role string, ok bool) {
	sessionID = conn.GetSessionID()
	role = conn.GetRole()
	if sessionID == "" || !types.IsValidRole(role) {
		h.sendError(conn, "no participant slot in any session")
		return "", "", false
	}
	return sessionID, role, true
}

func decodeFormPayload(payload json.RawMessage) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// sendError sends a user-visible error event back to the sender.
func (h *Hub) sendError(conn interfaces.Connection, message string) {
	envelope, err := types.NewEnvelope(types.EventError, &types.ErrorPayload{Message: message})
	if err != nil {
		log.Printf("Failed to build error envelope: %v", err)
		return
	}

	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("Failed to send error to connection %s: %v", conn.GetConnectionID(), err)
	}
}
