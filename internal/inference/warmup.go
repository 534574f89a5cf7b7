package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
)

// warmMarker is the persisted flag recording that the one-time cache warm
// already ran.
const warmMarker = "model_warmed"

// WarmCache performs a single dummy inference after first model load to
// pre-warm the runtime's internal cache. At most once per install, tracked
// by a marker file; a failed attempt leaves no marker and is safe to retry.
// No side effects beyond the marker.
func WarmCache(ctx context.Context, factory interfaces.EngineFactory, stateDir string, logger *zap.Logger) error {
	marker := filepath.Join(stateDir, warmMarker)
	if _, err := os.Stat(marker); err == nil {
		logger.Debug("model cache already warm")
		return nil
	}

	engine, err := factory.New(ctx)
	if err != nil {
		return fmt.Errorf("warm cache: create engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if _, err := engine.Generate(ctx, interfaces.GenerateInput{Prompt: "Reply with the single word: ready"}); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	if err := os.WriteFile(marker, []byte{}, 0o644); err != nil {
		return fmt.Errorf("warm cache: write marker: %w", err)
	}
	logger.Info("model cache warmed")
	return nil
}
