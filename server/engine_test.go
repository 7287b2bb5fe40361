package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/logging"
)

// fakeServer 记录生命周期调用顺序，可按步骤注入错误
type fakeServer struct {
	mu    sync.Mutex
	steps []string

	loadConfigErr error
	setupErr      error
	backgroundErr error
	shutdownErr   error

	// run 为 nil 时 Run 阻塞到 ctx 取消
	run func(ctx context.Context) error

	bgDone chan struct{}
}

func (s *fakeServer) record(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *fakeServer) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *fakeServer) Name() string { return "fake" }

func (s *fakeServer) LoadConfig() error {
	s.record("LoadConfig")
	return s.loadConfigErr
}

func (s *fakeServer) SetupDependencies(ctx context.Context) error {
	s.record("SetupDependencies")
	return s.setupErr
}

func (s *fakeServer) StartBackgroundTasks(ctx context.Context) error {
	s.record("StartBackgroundTasks")
	if s.bgDone != nil {
		go func() {
			<-ctx.Done()
			close(s.bgDone)
		}()
	}
	return s.backgroundErr
}

func (s *fakeServer) Run(ctx context.Context) error {
	s.record("Run")
	if s.run != nil {
		return s.run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.record("Shutdown")
	return s.shutdownErr
}

func newTestEngine(s IServer, opts ...Option) *Engine {
	opts = append([]Option{
		WithLogger(logging.NewNoopLogger()),
		WithShutdownTimeout(100 * time.Millisecond),
	}, opts...)
	return NewEngine(s, opts...)
}

func TestEngine_LifecycleUntilCancel(t *testing.T) {
	s := &fakeServer{}
	e := newTestEngine(s)
	assert.Equal(t, StatePending, e.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.State() == StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancel")
	}
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, []string{"LoadConfig", "SetupDependencies", "StartBackgroundTasks", "Run", "Shutdown"}, s.snapshot())
}

func TestEngine_RunReturnsNil(t *testing.T) {
	s := &fakeServer{run: func(context.Context) error { return nil }}
	e := newTestEngine(s)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, StateStopped, e.State())
}

func TestEngine_RunErrorPropagates(t *testing.T) {
	runErr := errors.New("run failed")
	s := &fakeServer{run: func(context.Context) error { return runErr }}
	e := newTestEngine(s)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, runErr)
	assert.Contains(t, err.Error(), "server execution error")
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, "Shutdown", s.snapshot()[len(s.snapshot())-1])
}

func TestEngine_LoadConfigErrorStopsEarly(t *testing.T) {
	sentinel := errors.New("config failed")
	s := &fakeServer{loadConfigErr: sentinel}
	e := newTestEngine(s)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, []string{"LoadConfig"}, s.snapshot())
}

func TestEngine_SetupErrorReleasesResources(t *testing.T) {
	sentinel := errors.New("broker unreachable")
	s := &fakeServer{setupErr: sentinel}
	e := newTestEngine(s)

	err := e.Run(context.Background())
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, StateError, e.State())
	assert.Equal(t, []string{"LoadConfig", "SetupDependencies", "Shutdown"}, s.snapshot())
}

func TestEngine_ShutdownError(t *testing.T) {
	sentinel := errors.New("close failed")
	s := &fakeServer{shutdownErr: sentinel, run: func(context.Context) error { return nil }}
	e := newTestEngine(s)

	require.ErrorIs(t, e.Run(context.Background()), sentinel)
	assert.Equal(t, StateError, e.State())
}

func TestEngine_CancelsBackgroundTasks(t *testing.T) {
	s := &fakeServer{
		bgDone: make(chan struct{}),
		run:    func(context.Context) error { return nil },
	}
	e := newTestEngine(s)
	require.NoError(t, e.Run(context.Background()))

	select {
	case <-s.bgDone:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("background task was not cancelled")
	}
}

func TestEngine_HookOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	hook := func(name string) Hook {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s := &fakeServer{run: func(ctx context.Context) error {
		// 等待 OnAfterStart 执行完再退出
		time.Sleep(20 * time.Millisecond)
		return nil
	}}
	e := newTestEngine(s,
		WithBeforeInit(hook("beforeInit")),
		WithAfterInit(hook("afterInit")),
		WithBeforeStart(hook("beforeStart")),
		WithAfterStart(hook("afterStart")),
		WithBeforeStop(hook("beforeStop")),
		WithAfterStop(hook("afterStop")),
	)
	require.NoError(t, e.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"beforeInit", "afterInit", "beforeStart", "afterStart", "beforeStop", "afterStop"}, order)
}

func TestEngine_BeforeStartHookFailure(t *testing.T) {
	sentinel := errors.New("not ready")
	s := &fakeServer{}
	e := newTestEngine(s, WithBeforeStart(func(context.Context) error { return sentinel }))

	require.ErrorIs(t, e.Run(context.Background()), sentinel)
	assert.Equal(t, []string{"LoadConfig", "SetupDependencies", "Shutdown"}, s.snapshot())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", State(99).String())
}
