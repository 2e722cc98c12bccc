package types

import (
	"encoding/json"
	"time"
)

// Role slot identifiers. A session holds at most one participant per slot.
const (
	RoleA = "A"
	RoleB = "B"
)

// Client-to-server event names.
const (
	EventJoinSession   = "join-session"
	EventFormProgress  = "form-progress"
	EventFormCompleted = "form-completed"
	EventConfirmSend   = "confirm-send-pdf"
)

// Server-to-client event names.
const (
	EventRoleAssigned      = "role-assigned"
	EventPeerJoined        = "peer-joined"
	EventPeerStatusUpdate  = "peer-status-update"
	EventConfirmationReady = "pdf-confirmation-ready"
	EventPDFSent           = "pdf-sent"
	EventPDFSendFailed     = "pdf-send-failed"
	EventSessionExpired    = "session-expired"
	EventError             = "error"
)

// Envelope is the wire format for all realtime events in both directions.
// Payload stays raw so the transport layer never interprets form data.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a ready-to-send envelope.
// A nil payload produces an envelope with no payload field.
func NewEnvelope(event string, payload interface{}) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}

// JoinPayload is the client payload for join-session.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

// RoleAssignedPayload informs a joining client of its slot.
// Role is nil when the session was already full.
type RoleAssignedPayload struct {
	Role *string `json:"role"`
}

// ErrorPayload carries a user-visible error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// FailurePayload carries the reason for a failed finalize.
type FailurePayload struct {
	Reason string `json:"reason"`
}

// ParticipantView is the slot state exposed to session members.
// Connection identity is deliberately not part of this view.
type ParticipantView struct {
	Completed bool                   `json:"completed"`
	Confirmed bool                   `json:"confirmed"`
	Data      map[string]interface{} `json:"data"`
}

// StatusSnapshot is the full per-session status broadcast after any mutation.
type StatusSnapshot struct {
	A *ParticipantView `json:"A,omitempty"`
	B *ParticipantView `json:"B,omitempty"`
}

// CombinedReport is the two-participant payload handed to the external
// PDF generation and delivery pipeline on finalize.
type CombinedReport struct {
	SessionID  string                 `json:"sessionId"`
	A          map[string]interface{} `json:"a"`
	B          map[string]interface{} `json:"b"`
	Recipients []string               `json:"recipients"`
}

// Delivery outcome recorded in the archive for every finalize attempt.
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// DeliveryRecord is one row of the finalize audit trail.
type DeliveryRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Recipients []string  `json:"recipients"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionSummary is the operational view of a live session for the HTTP API.
type SessionSummary struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	Completed    int       `json:"completed"`
	Confirmed    int       `json:"confirmed"`
	Ready        bool      `json:"ready"`
	LastActivity time.Time `json:"last_activity"`
}
