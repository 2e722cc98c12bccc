package interfaces

import "tandem/pkg/types"

// SessionCoordinator is the single owner of all session and participant
// state. Callers must serialize mutating calls per session; the hub's
// single event goroutine provides that ordering.
type SessionCoordinator interface {
	// Join adds a connection to the session, creating it on first join.
	// Returns the assigned slot ("A" or "B"), or "" when both slots were
	// already occupied. A full session is not an error; the caller still
	// belongs to the broadcast group.
	Join(sessionID, connectionID string) string

	// ReportProgress overwrites the slot's form payload without marking
	// it completed. No-op when the session or slot does not exist.
	ReportProgress(sessionID, role string, data map[string]interface{})

	// ReportCompleted stores the payload and marks the slot completed.
	// Fires the confirmation-ready notification exactly once per
	// transition into the all-completed state.
	ReportCompleted(sessionID, role string, data map[string]interface{})

	// ReportConfirmed marks the slot confirmed. When both slots are
	// confirmed the finalize pipeline is triggered exactly once.
	ReportConfirmed(sessionID, role string)

	// Leave releases whichever slot the connection owns. The session is
	// deleted once both slots are empty.
	Leave(sessionID, connectionID string)

	// Snapshot returns the client-facing status of a session.
	Snapshot(sessionID string) (*types.StatusSnapshot, bool)

	// Summaries lists all live sessions for the operational API.
	Summaries() []*types.SessionSummary
}
