package types

import "regexp"

// Session ids are client-generated UUIDs in practice, but any opaque token
// from this charset is accepted.
var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidSessionID checks if a session id meets format requirements.
// 1-128 characters keeps ids usable as map keys and QR code content.
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 128 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidRole checks if a role names one of the two participant slots.
func IsValidRole(role string) bool {
	return role == RoleA || role == RoleB
}

// Payload keys holding recipient addresses for the generated report.
// Each participant names their own insurer and their own inbox.
var recipientKeys = []string{"insurerEmail", "insuredEmail"}

// RecipientAddresses extracts the report recipient addresses from both
// participant payloads. Duplicates are dropped, first occurrence wins.
func RecipientAddresses(payloads ...map[string]interface{}) []string {
	seen := make(map[string]bool)
	var recipients []string

	for _, payload := range payloads {
		if payload == nil {
			continue
		}
		for _, key := range recipientKeys {
			if addr, ok := payload[key].(string); ok && addr != "" && !seen[addr] {
				seen[addr] = true
				recipients = append(recipients, addr)
			}
		}
	}

	return recipients
}
