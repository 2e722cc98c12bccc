package pipeline

import "errors"

// Pipeline client error types
var (
	ErrMissingBaseURL   = errors.New("pipeline base URL cannot be empty")
	ErrNilReport        = errors.New("combined report cannot be nil")
	ErrDeliveryRejected = errors.New("pipeline rejected report delivery")
	ErrUnhealthy        = errors.New("pipeline health check failed")
)
