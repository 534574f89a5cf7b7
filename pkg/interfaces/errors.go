package interfaces

import "errors"

// Common errors shared across component boundaries.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrEndpointClosed     = errors.New("endpoint closed")
	ErrDeviceUnsafe       = errors.New("device unsafe for inference")
	ErrUngradeable        = errors.New("model output ungradeable")
)
