package interfaces

// Broadcaster delivers named events to realtime connections grouped by
// session id. Delivery is best effort; events emitted while a client is
// disconnected are lost to that client.
type Broadcaster interface {
	// Broadcast sends an event to every connection currently in the
	// session's group, including the originator of the mutation.
	Broadcast(sessionID, event string, payload interface{})

	// SendTo sends an event to a single connection by connection id.
	SendTo(connectionID, event string, payload interface{})

	// DisbandGroup removes all connections from a session's group.
	// Used after finalize and on session expiry.
	DisbandGroup(sessionID string)
}
