package transport

import "errors"

// Connection errors
var (
	ErrWriteTimeout = errors.New("write timeout")
	ErrNilConn      = errors.New("connection cannot be nil")
)

// Discovery errors
var (
	ErrAlreadyAdvertising = errors.New("already advertising")
	ErrAlreadyDiscovering = errors.New("already discovering")
)
