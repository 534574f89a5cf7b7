package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"peerclass/internal/config"
	"peerclass/internal/database"
	"peerclass/internal/files"
	"peerclass/internal/health"
	"peerclass/internal/inference"
	"peerclass/internal/reassembly"
	"peerclass/internal/session"
	"peerclass/internal/transport"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// Application owns the shared infrastructure both roles need: storage, the
// file store and the reassembly cache. Role coordinators are built on top of
// it. Initialization order is storage first, transport last.
type Application struct {
	Config *config.Config
	Logger *zap.Logger
	Store  *database.Store
	Files  *files.Store
	Cache  *reassembly.Cache

	orchestrator *inference.Orchestrator
}

// New wires the shared components. The caller owns Close.
func New(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	fileStore, err := files.NewStore(cfg.Files.Root, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize file store: %w", err)
	}

	return &Application{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Files:  fileStore,
		Cache:  reassembly.NewCache(logger),
	}, nil
}

// engineFactory builds the factory for the configured local runtime.
func (a *Application) engineFactory() *inference.LocalRuntimeFactory {
	return &inference.LocalRuntimeFactory{
		BaseURL: a.Config.Inference.RuntimeURL,
		Model:   a.Config.Inference.Model,
	}
}

func (a *Application) healthMonitor() *health.Monitor {
	h := a.Config.Health
	return health.NewMonitor(health.Thresholds{
		MinAvailableRAMBytes: h.MinAvailableRAMBytes,
		ReducedRAMBytes:      h.ReducedRAMBytes,
		ElevatedTempC:        h.ElevatedTempC,
		CriticalTempC:        h.CriticalTempC,
	}, a.Logger)
}

// NewTutorSession builds a tutor coordinator with grading wired in. The
// model runtime is pinged and warmed before the first student can submit.
func (a *Application) NewTutorSession(ctx context.Context, class types.ClassProfile, tutorID string) (*session.TutorSession, error) {
	factory := a.engineFactory()
	if err := factory.Ping(ctx); err != nil {
		return nil, fmt.Errorf("model runtime unreachable: %w", err)
	}
	if err := inference.WarmCache(ctx, factory, a.Config.Inference.StateDir, a.Logger); err != nil {
		a.Logger.Warn("model warm-up failed, first grade will be slow", zap.Error(err))
	}

	a.orchestrator = inference.NewOrchestrator(factory, a.healthMonitor(), a.Logger)

	events := make(chan interfaces.EndpointEvent, 256)
	listener := transport.NewListener(
		a.Config.Transport.ListenAddr(),
		transport.NewRegistry(),
		events,
		a.Logger,
	)
	advertiser := transport.NewAdvertiser(
		a.Config.Transport.BeaconPort,
		a.Config.Transport.AdvertiseInterval,
		a.Logger,
	)

	return session.NewTutorSession(
		class, tutorID, a.Store,
		listener, advertiser,
		a.Cache, a.Files,
		a.orchestrator,
		events, a.Logger,
	), nil
}

// NewStudentSession builds a student coordinator.
func (a *Application) NewStudentSession(profile types.StudentProfile) *session.StudentSession {
	discoverer := transport.NewDiscoverer(
		a.Config.Transport.BeaconPort,
		a.Config.Transport.DiscoveryTimeout,
		a.Logger,
	)
	return session.NewStudentSession(profile, a.Store, discoverer, a.Cache, a.Files, a.Logger)
}

// Close releases shared resources. Safe after a failed role build.
func (a *Application) Close() error {
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	return a.Store.Close()
}
