package session

import "errors"

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrNotJoined       = errors.New("not joined to a session")
	ErrNoAssessment    = errors.New("no assessment in progress")
)
