package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMonitor struct {
	mu       sync.Mutex
	snapshot interfaces.HealthSnapshot
	err      error
	samples  int
}

func (m *fakeMonitor) Sample(ctx context.Context) (interfaces.HealthSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	return m.snapshot, m.err
}

func (m *fakeMonitor) sampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

type fakeEngine struct {
	output   string
	genErr   error
	hold     chan struct{} // when non-nil, Generate blocks until closed
	closed   atomic.Bool
	inFlight *atomic.Int32 // shared concurrency tracker
	maxSeen  *atomic.Int32
}

func (e *fakeEngine) Generate(ctx context.Context, input interfaces.GenerateInput) (string, error) {
	if e.inFlight != nil {
		now := e.inFlight.Add(1)
		defer e.inFlight.Add(-1)
		for {
			seen := e.maxSeen.Load()
			if now <= seen || e.maxSeen.CompareAndSwap(seen, now) {
				break
			}
		}
	}
	if e.hold != nil {
		select {
		case <-e.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.output, e.genErr
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	newErr  error
	engines []*fakeEngine
	output  string
	genErr  error
	hold    chan struct{}

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeFactory) New(ctx context.Context) (interfaces.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	engine := &fakeEngine{
		output:   f.output,
		genErr:   f.genErr,
		hold:     f.hold,
		inFlight: &f.inFlight,
		maxSeen:  &f.maxSeen,
	}
	f.engines = append(f.engines, engine)
	return engine, nil
}

func (f *fakeFactory) created() []*fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeEngine(nil), f.engines...)
}

func healthyMonitor() *fakeMonitor {
	return &fakeMonitor{snapshot: interfaces.HealthSnapshot{Capability: interfaces.CapabilityFull}}
}

func testTask() Task {
	return Task{
		Question:   types.Question{ID: "q1", Text: "Explain photosynthesis", MarkingGuide: "light, water, CO2", MaxScore: 5},
		AnswerText: "Plants convert light into energy.",
	}
}

func TestGrade_HappyPath(t *testing.T) {
	factory := &fakeFactory{output: `{"score": 4, "feedback": "Nearly complete."}`}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	result, err := o.Grade(context.Background(), testTask(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, result.Score)
	assert.Equal(t, "q1", result.QuestionID)

	engines := factory.created()
	require.Len(t, engines, 1, "exactly one ephemeral engine per task")
	assert.True(t, engines[0].closed.Load(), "engine must be torn down after the task")
}

func TestGrade_DeviceUnsafeAbortsBeforeEngineCreation(t *testing.T) {
	factory := &fakeFactory{output: "unused"}
	monitor := &fakeMonitor{snapshot: interfaces.HealthSnapshot{
		Capability: interfaces.CapabilityUnsupported,
		Reason:     "only 300 MB of memory available",
	}}
	o := NewOrchestrator(factory, monitor, zap.NewNop())
	defer o.Close()

	_, err := o.Grade(context.Background(), testTask(), nil)
	require.ErrorIs(t, err, interfaces.ErrDeviceUnsafe)
	assert.Contains(t, err.Error(), "300 MB")
	assert.Empty(t, factory.created(), "no engine may be constructed on an unsafe device")
}

func TestGrade_EngineCreationFailureReported(t *testing.T) {
	factory := &fakeFactory{newErr: errors.New("model artifact missing")}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	_, err := o.Grade(context.Background(), testTask(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create engine")
}

func TestGrade_EngineTornDownOnInferenceError(t *testing.T) {
	factory := &fakeFactory{genErr: errors.New("native runtime fault")}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	_, err := o.Grade(context.Background(), testTask(), nil)
	require.Error(t, err)

	engines := factory.created()
	require.Len(t, engines, 1)
	assert.True(t, engines[0].closed.Load(), "teardown is guaranteed on the error path")
}

func TestGrade_UngradeableOutputIsTyped(t *testing.T) {
	factory := &fakeFactory{output: "I refuse to answer in JSON."}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	_, err := o.Grade(context.Background(), testTask(), nil)
	assert.ErrorIs(t, err, interfaces.ErrUngradeable)
}

func TestGrade_StrictlySequentialExecution(t *testing.T) {
	hold := make(chan struct{})
	factory := &fakeFactory{output: `{"score": 1, "feedback": "ok"}`, hold: hold}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Grade(context.Background(), testTask(), nil)
			assert.NoError(t, err)
		}()
	}

	// Let tasks queue up behind the first, then release them all.
	time.Sleep(50 * time.Millisecond)
	close(hold)
	wg.Wait()

	assert.Equal(t, int32(1), factory.maxSeen.Load(), "no two engine calls may overlap")
	for _, engine := range factory.created() {
		assert.True(t, engine.closed.Load())
	}
}

func TestGrade_HealthSamplingScopedToTask(t *testing.T) {
	hold := make(chan struct{})
	factory := &fakeFactory{output: `{"score": 1, "feedback": "ok"}`, hold: hold}
	monitor := healthyMonitor()
	o := NewOrchestrator(factory, monitor, zap.NewNop())
	o.healthInterval = 5 * time.Millisecond
	defer o.Close()

	var readings atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Grade(context.Background(), testTask(), func(interfaces.HealthSnapshot) {
			readings.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return readings.Load() >= 2 },
		2*time.Second, 5*time.Millisecond, "sampling must run while the task is active")

	close(hold)
	<-done

	// Sampling stops once the task ends.
	settled := readings.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, readings.Load(), settled+1, "sampler must be cancelled on task exit")
}

func TestGrade_CancelledWhileQueued(t *testing.T) {
	hold := make(chan struct{})
	factory := &fakeFactory{output: `{"score": 1, "feedback": "ok"}`, hold: hold}
	o := NewOrchestrator(factory, healthyMonitor(), zap.NewNop())
	defer o.Close()

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = o.Grade(context.Background(), testTask(), nil)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Grade(ctx, testTask(), nil)
	assert.ErrorIs(t, err, context.Canceled)

	close(hold)
	<-first
}
