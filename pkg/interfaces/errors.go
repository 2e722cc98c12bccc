package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrArchiveClosed = errors.New("delivery archive is closed")
)
