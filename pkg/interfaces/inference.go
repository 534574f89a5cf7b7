package interfaces

import "context"

// GenerateInput is a single multimodal model request. Images are raw encoded
// bytes (JPEG/PNG) attached alongside the text prompt.
type GenerateInput struct {
	Prompt string
	Images [][]byte
}

// Engine is a single-use inference session. An engine is created for exactly
// one grading task and closed immediately after; it is never reused across
// tasks.
type Engine interface {
	// Generate runs one inference and returns the raw model text.
	Generate(ctx context.Context, input GenerateInput) (string, error)

	// Close releases all engine resources. Must be called on every exit
	// path, including after a Generate error.
	Close() error
}

// EngineFactory creates ephemeral engines.
type EngineFactory interface {
	// New allocates a fresh engine. Engine-creation failures are reported to
	// the caller and not retried within the same request.
	New(ctx context.Context) (Engine, error)
}

// ThermalState classifies device thermal readings.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalElevated
	ThermalCritical
)

// Capability is the preflight verdict for running an inference task.
type Capability int

const (
	// CapabilityFull: healthy headroom, run normally.
	CapabilityFull Capability = iota
	// CapabilityReduced: constrained but runnable; surface a warning.
	CapabilityReduced
	// CapabilityUnsupported: severe throttling or near-exhausted memory.
	// Grading must abort before allocating anything.
	CapabilityUnsupported
)

// HealthSnapshot is one reading of device memory and thermal status.
type HealthSnapshot struct {
	AvailableRAMBytes uint64
	TotalRAMBytes     uint64
	Thermal           ThermalState
	Capability        Capability
	// Reason is a user-facing explanation when Capability is not Full.
	Reason string
}

// DeviceHealthMonitor samples device memory and thermal state. Used for the
// grading preflight and for periodic sampling while a task runs.
type DeviceHealthMonitor interface {
	Sample(ctx context.Context) (HealthSnapshot, error)
}
