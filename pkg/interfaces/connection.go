package interfaces

// Connection represents a realtime client connection.
// Implementations must serialize writes internally so that WriteJSON is
// safe to call from any goroutine.
type Connection interface {
	// WriteJSON sends a JSON message to the client (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetConnectionID returns the server-assigned connection identity
	GetConnectionID() string

	// GetSessionID returns the session this connection has joined,
	// or "" before a join-session event was accepted
	GetSessionID() string

	// GetRole returns the assigned slot ("A" or "B"), or "" when the
	// connection holds no slot (not joined, or session was full)
	GetRole() string

	// SetMembership records the session and slot assigned at join time.
	// Role may be empty for a member without a slot.
	SetMembership(sessionID, role string)
}
