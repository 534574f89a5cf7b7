package interfaces

// Endpoint represents one connected peer on the data channel. All write
// methods are safe for concurrent use; implementations serialize writes
// through a single writer.
type Endpoint interface {
	// ID returns the transport-assigned endpoint identifier.
	ID() string

	// SendEnvelope transmits an encoded payload envelope as a text frame.
	SendEnvelope(data []byte) error

	// SendFile transmits an opaque framed file as a binary frame.
	SendFile(data []byte) error

	// Close tears down the connection. Idempotent.
	Close() error
}

// EndpointEventKind discriminates transport events delivered to the session
// coordinator's dispatcher loop.
type EndpointEventKind int

const (
	// EndpointConnected: a peer opened the data channel. On the tutor side
	// this happens before any authorization decision; the PIN arrives on the
	// now-open channel.
	EndpointConnected EndpointEventKind = iota
	// EndpointEnvelope: a text frame carrying a payload envelope arrived.
	EndpointEnvelope
	// EndpointFile: a binary frame carrying a framed file arrived.
	EndpointFile
	// EndpointDisconnected: the peer is gone; transient state for the
	// endpoint must be cleared.
	EndpointDisconnected
)

// EndpointEvent is the unit handed from transport callbacks to the single
// dispatcher loop. Payload is nil for connect/disconnect events.
type EndpointEvent struct {
	Kind       EndpointEventKind
	EndpointID string
	Endpoint   Endpoint
	Payload    []byte
}
