package protocol

import "errors"

// Codec error types. All of these are absorbed at the component boundary:
// a malformed message is logged and dropped, never propagated as fatal.
var (
	ErrMalformedEnvelope = errors.New("malformed payload envelope")
	ErrMalformedPayload  = errors.New("malformed payload body")
	ErrFrameTruncated    = errors.New("framed file truncated")
	ErrHeaderTooLarge    = errors.New("framed file header exceeds limit")
	ErrMalformedHeader   = errors.New("malformed framed file header")
)
