package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerclass/internal/extract"
	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// An earlier build kept one long-lived engine per question to save load
// latency; repeated reuse corrupted native runtime state. The orchestrator
// therefore creates a brand-new engine for every grading task and discards
// it immediately after, trading latency for isolation.

// defaultHealthInterval is how often device health is sampled while a
// grading task runs.
const defaultHealthInterval = 2 * time.Second

// Task is one grading request: a question with its marking guide and the
// student's answer. AnswerImage carries loaded image bytes when the answer
// is an image; text and image are mutually exclusive in practice.
type Task struct {
	Question    types.Question
	AnswerText  string
	AnswerImage []byte
}

// HealthFunc receives periodic device readings while a task runs, for
// status display. Called from the sampling goroutine.
type HealthFunc func(interfaces.HealthSnapshot)

type gradeRequest struct {
	ctx      context.Context
	task     Task
	onHealth HealthFunc
	reply    chan gradeReply
}

type gradeReply struct {
	result types.GradeResult
	err    error
}

// Orchestrator runs grading tasks strictly one at a time. All work funnels
// through a single worker goroutine: no two engine calls ever execute
// concurrently, and transport or UI work keeps running while a grade
// computes.
type Orchestrator struct {
	factory        interfaces.EngineFactory
	monitor        interfaces.DeviceHealthMonitor
	healthInterval time.Duration
	logger         *zap.Logger

	requests chan gradeRequest
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewOrchestrator creates the orchestrator and starts its worker.
func NewOrchestrator(factory interfaces.EngineFactory, monitor interfaces.DeviceHealthMonitor, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		factory:        factory,
		monitor:        monitor,
		healthInterval: defaultHealthInterval,
		logger:         logger,
		requests:       make(chan gradeRequest),
		shutdown:       make(chan struct{}),
	}
	o.wg.Add(1)
	go o.worker()
	return o
}

// Grade runs one grading task. Blocks until the task has run on the worker
// or ctx is cancelled while still queued. onHealth may be nil.
func (o *Orchestrator) Grade(ctx context.Context, task Task, onHealth HealthFunc) (types.GradeResult, error) {
	req := gradeRequest{ctx: ctx, task: task, onHealth: onHealth, reply: make(chan gradeReply, 1)}

	select {
	case o.requests <- req:
	case <-ctx.Done():
		return types.GradeResult{}, ctx.Err()
	case <-o.shutdown:
		return types.GradeResult{}, ErrOrchestratorClosed
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-o.shutdown:
		return types.GradeResult{}, ErrOrchestratorClosed
	}
}

// Close stops the worker. Pending Grade calls return ErrOrchestratorClosed.
func (o *Orchestrator) Close() {
	o.once.Do(func() { close(o.shutdown) })
	o.wg.Wait()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case req := <-o.requests:
			result, err := o.runTask(req.ctx, req.task, req.onHealth)
			req.reply <- gradeReply{result: result, err: err}
		case <-o.shutdown:
			return
		}
	}
}

// runTask executes one grading task end to end: preflight, ephemeral engine,
// scoped health sampling, inference, extraction. The engine is torn down on
// every exit path.
func (o *Orchestrator) runTask(ctx context.Context, task Task, onHealth HealthFunc) (types.GradeResult, error) {
	if err := ctx.Err(); err != nil {
		return types.GradeResult{}, err
	}

	// Preflight before allocating anything.
	snapshot, err := o.monitor.Sample(ctx)
	if err != nil {
		return types.GradeResult{}, fmt.Errorf("health preflight: %w", err)
	}
	if snapshot.Capability == interfaces.CapabilityUnsupported {
		return types.GradeResult{}, fmt.Errorf("%w: %s", interfaces.ErrDeviceUnsafe, snapshot.Reason)
	}
	if snapshot.Capability == interfaces.CapabilityReduced {
		o.logger.Warn("grading on constrained device", zap.String("reason", snapshot.Reason))
	}

	engine, err := o.factory.New(ctx)
	if err != nil {
		return types.GradeResult{}, fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			o.logger.Warn("engine close failed", zap.Error(closeErr))
		}
	}()

	// Health sampling is scoped to the task: started here, cancelled on
	// every exit path.
	sampleCtx, stopSampling := context.WithCancel(ctx)
	defer stopSampling()
	if onHealth != nil {
		o.wg.Add(1)
		go o.sampleHealth(sampleCtx, onHealth)
	}

	input := interfaces.GenerateInput{Prompt: BuildPrompt(task)}
	if len(task.AnswerImage) > 0 {
		input.Images = [][]byte{task.AnswerImage}
	}

	started := time.Now()
	raw, err := engine.Generate(ctx, input)
	if err != nil {
		return types.GradeResult{}, fmt.Errorf("inference: %w", err)
	}
	o.logger.Info("inference complete",
		zap.String("question_id", task.Question.ID),
		zap.Duration("elapsed", time.Since(started)))

	result, err := extract.Grade(raw, task.Question.ID, task.Question.MaxScore)
	if err != nil {
		o.logger.Warn("model output ungradeable",
			zap.String("question_id", task.Question.ID),
			zap.String("raw_output", extract.StripFences(raw)))
	}
	return result, err
}

func (o *Orchestrator) sampleHealth(ctx context.Context, onHealth HealthFunc) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if snapshot, err := o.monitor.Sample(ctx); err == nil {
				onHealth(snapshot)
			}
		case <-ctx.Done():
			return
		}
	}
}
