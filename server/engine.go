package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/MathisDulieu/Booking-sub000/logging"
)

// IServer 进程必须实现的生命周期步骤，由 Engine 按固定顺序调用
type IServer interface {
	// Name 进程名称
	Name() string

	// LoadConfig 解析配置文件、环境变量与命令行参数
	LoadConfig() error

	// SetupDependencies 连接代理与存储，组装处理器
	SetupDependencies(ctx context.Context) error

	// StartBackgroundTasks 启动消费者等非阻塞任务
	StartBackgroundTasks(ctx context.Context) error

	// Run 运行主循环，阻塞直到 ctx 取消或出错
	Run(ctx context.Context) error

	// Shutdown 停止消费、关闭连接、刷新日志
	Shutdown(ctx context.Context) error
}

// Engine 编排启动流程：Init -> Setup -> Background -> Run -> Signal -> Shutdown
type Engine struct {
	server  IServer
	options *Options
	logger  logging.Logger
	state   atomic.Int32
}

// NewEngine 创建启动引擎，名称优先取 server.Name()
func NewEngine(server IServer, opts ...Option) *Engine {
	options := DefaultOptions()
	if name := server.Name(); name != "" {
		options.Name = name
	}
	for _, o := range opts {
		o(options)
	}

	e := &Engine{server: server, options: options}
	e.state.Store(int32(StatePending))
	return e
}

// State 当前状态
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// log 配置加载后才确定全局 Logger，因此每次取最新值
func (e *Engine) log() logging.Logger {
	if e.options.Logger != nil {
		return e.options.Logger
	}
	return logging.ComponentLogger("server").WithFields(logging.String("service", e.options.Name))
}

// Start 运行直到收到 SIGINT/SIGTERM/SIGHUP 或主循环退出
func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	return e.Run(ctx)
}

// Run 执行完整生命周期，ctx 取消即触发关闭
func (e *Engine) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.setState(StateInitializing)
	if err := runHooks(ctx, e.options.OnBeforeInit); err != nil {
		e.setState(StateError)
		return fmt.Errorf("OnBeforeInit hook failed: %w", err)
	}
	if err := e.server.LoadConfig(); err != nil {
		e.setState(StateError)
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := runHooks(ctx, e.options.OnAfterInit); err != nil {
		e.setState(StateError)
		return fmt.Errorf("OnAfterInit hook failed: %w", err)
	}

	e.log().Info(ctx, "starting", logging.String("version", e.options.Version))

	setupCtx, setupCancel := context.WithTimeout(ctx, e.options.StartupTimeout)
	err := e.server.SetupDependencies(setupCtx)
	setupCancel()
	if err != nil {
		e.setState(StateError)
		e.shutdown()
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	e.setState(StatePrepared)

	if err := runHooks(ctx, e.options.OnBeforeStart); err != nil {
		e.setState(StateError)
		e.shutdown()
		return fmt.Errorf("OnBeforeStart hook failed: %w", err)
	}
	if err := e.server.StartBackgroundTasks(ctx); err != nil {
		e.setState(StateError)
		e.shutdown()
		return fmt.Errorf("failed to start background tasks: %w", err)
	}

	e.setState(StateRunning)
	errChan := make(chan error, 1)
	go func() {
		errChan <- e.server.Run(ctx)
	}()

	for _, hook := range e.options.OnAfterStart {
		if err := hook(ctx); err != nil {
			e.log().Warn(ctx, "OnAfterStart hook failed", logging.Error(err))
		}
	}
	e.log().Info(ctx, "running")

	var runErr error
	select {
	case runErr = <-errChan:
		if runErr != nil {
			e.log().Error(ctx, "run loop failed", logging.Error(runErr))
		}
	case <-ctx.Done():
		e.log().Info(context.Background(), "shutdown requested")
	}
	cancel()

	if err := e.shutdown(); err != nil {
		return err
	}
	if runErr != nil {
		e.setState(StateError)
		return fmt.Errorf("server execution error: %w", runErr)
	}
	e.setState(StateStopped)
	e.log().Info(context.Background(), "shutdown complete")
	return nil
}

// shutdown 执行关闭回调与 IServer.Shutdown；初始化失败时也会调用以释放已打开的资源
func (e *Engine) shutdown() error {
	if e.State() != StateError {
		e.setState(StateStopping)
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.options.ShutdownTimeout)
	defer cancel()

	for _, hook := range e.options.OnBeforeStop {
		if err := hook(ctx); err != nil {
			e.log().Warn(ctx, "OnBeforeStop hook failed", logging.Error(err))
		}
	}
	if err := e.server.Shutdown(ctx); err != nil {
		e.setState(StateError)
		e.log().Error(ctx, "shutdown failed", logging.Error(err))
		return err
	}
	for _, hook := range e.options.OnAfterStop {
		if err := hook(ctx); err != nil {
			e.log().Warn(ctx, "OnAfterStop hook failed", logging.Error(err))
		}
	}
	return nil
}

func runHooks(ctx context.Context, hooks []Hook) error {
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}
