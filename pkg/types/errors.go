package types

import "errors"

// Shared validation error types used across components
var (
	ErrInvalidSessionID = errors.New("session ID must be 1-128 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEnvelope  = errors.New("invalid event envelope")
)
