package session

import "errors"

// Registry lifecycle error types
var (
	ErrRegistryAlreadyRunning = errors.New("session registry is already running")
	ErrRegistryNotRunning     = errors.New("session registry is not running")
)
