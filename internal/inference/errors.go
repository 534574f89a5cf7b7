package inference

import "errors"

var (
	ErrOrchestratorClosed = errors.New("inference orchestrator closed")
)
