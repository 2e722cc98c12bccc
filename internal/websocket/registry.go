package websocket

import (
	"log"
	"sync"

	"tandem/pkg/interfaces"
	"tandem/pkg/types"
)

// Registry tracks live connections and their broadcast groups. It is pure
// connection bookkeeping; session semantics live in the session registry.
// It implements interfaces.Broadcaster.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connectionID -> Connection
	groups      map[string]map[string]interfaces.Connection // sessionID -> connectionID -> Connection
}

// NewRegistry creates a connection registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		groups:      make(map[string]map[string]interfaces.Connection),
	}
}

// Register adds a connection to the global map.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	connectionID := conn.GetConnectionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Connection ids are server-generated UUIDs; a collision means a stale
	// entry. Close it asynchronously to avoid holding the lock on I/O.
	if existing, exists := r.connections[connectionID]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
	}

	r.connections[connectionID] = conn
	return nil
}

// Unregister removes a connection from the global map and from its group.
// Idempotent; only removes the exact connection instance registered.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	connectionID := conn.GetConnectionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[connectionID]
	if !exists || registered != conn {
		return
	}

	delete(r.connections, connectionID)

	// Membership may not be recorded on the connection yet when a disconnect
	// races its join event, so groups are scrubbed by connection id.
	for sessionID, members := range r.groups {
		if member, ok := members[connectionID]; ok && member == conn {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(r.groups, sessionID)
			}
		}
	}
}

// JoinGroup subscribes a connection to a session's broadcasts. Membership
// is granted on join regardless of whether a role slot was available. Only
// registered connections are accepted: a connection that unregistered while
// its join was still queued must not end up subscribed.
func (r *Registry) JoinGroup(sessionID string, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.GetConnectionID()]; !exists || registered != conn {
		return
	}

	if r.groups[sessionID] == nil {
		r.groups[sessionID] = make(map[string]interfaces.Connection)
	}
	r.groups[sessionID][conn.GetConnectionID()] = conn
}

// Broadcast delivers an event to every member of a session's group,
// including the originator. Failed deliveries are logged, not retried.
func (r *Registry) Broadcast(sessionID, event string, payload interface{}) {
	envelope, err := types.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope for session %s: %v", event, sessionID, err)
		return
	}

	r.mu.RLock()
	members := make([]interfaces.Connection, 0, len(r.groups[sessionID]))
	for _, conn := range r.groups[sessionID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	for _, conn := range members {
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("Failed to deliver %s to connection %s: %v", event, conn.GetConnectionID(), err)
		}
	}
}

// SendTo delivers an event to a single connection.
func (r *Registry) SendTo(connectionID, event string, payload interface{}) {
	envelope, err := types.NewEnvelope(event, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope for connection %s: %v", event, connectionID, err)
		return
	}

	r.mu.RLock()
	conn, exists := r.connections[connectionID]
	r.mu.RUnlock()

	if !exists {
		return // Connection already gone - delivery across disconnects is not guaranteed
	}

	if err := conn.WriteJSON(envelope); err != nil {
		log.Printf("Failed to deliver %s to connection %s: %v", event, connectionID, err)
	}
}

// DisbandGroup drops all group subscriptions for a session. Connections
// stay registered globally until they disconnect.
func (r *Registry) DisbandGroup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups, sessionID)
}

// GroupSize returns the number of connections subscribed to a session.
func (r *Registry) GroupSize(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups[sessionID])
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_groups":     len(r.groups),
	}
}
