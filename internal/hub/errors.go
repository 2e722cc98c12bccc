package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning     = errors.New("hub is already running")
	ErrHubNotRunning         = errors.New("hub is not running")
	ErrEventChannelFull      = errors.New("event channel is full")
	ErrDisconnectChannelFull = errors.New("disconnect channel is full")
)
