// Package server 定义进程生命周期接口与启动引擎
package server

import (
	"context"
	"time"

	"github.com/MathisDulieu/Booking-sub000/logging"
)

// State 引擎生命周期状态
type State int32

const (
	// StatePending 等待初始化
	StatePending State = iota
	// StateInitializing 正在加载配置
	StateInitializing
	// StatePrepared 依赖已就绪，等待启动
	StatePrepared
	// StateRunning 正在运行
	StateRunning
	// StateStopping 正在优雅关闭
	StateStopping
	// StateStopped 已停止
	StateStopped
	// StateError 发生不可恢复的错误
	StateError
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInitializing:
		return "Initializing"
	case StatePrepared:
		return "Prepared"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Hook 生命周期回调
type Hook func(ctx context.Context) error

// Options 引擎配置
type Options struct {
	Name            string
	Version         string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          logging.Logger

	OnBeforeInit  []Hook
	OnAfterInit   []Hook
	OnBeforeStart []Hook
	OnAfterStart  []Hook
	OnBeforeStop  []Hook
	OnAfterStop   []Hook
}

// Option 配置修改函数
type Option func(*Options)

// DefaultOptions 默认配置
func DefaultOptions() *Options {
	return &Options{
		Name:            "booking",
		Version:         "0.0.0",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

func WithVersion(version string) Option {
	return func(o *Options) {
		o.Version = version
	}
}

// WithStartupTimeout 依赖初始化的超时时间
func WithStartupTimeout(t time.Duration) Option {
	return func(o *Options) {
		o.StartupTimeout = t
	}
}

// WithShutdownTimeout 关闭阶段的超时时间
func WithShutdownTimeout(t time.Duration) Option {
	return func(o *Options) {
		o.ShutdownTimeout = t
	}
}

// WithLogger 设置引擎日志器，未设置时使用全局 Logger
func WithLogger(logger logging.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithBeforeInit(fn Hook) Option {
	return func(o *Options) {
		o.OnBeforeInit = append(o.OnBeforeInit, fn)
	}
}

func WithAfterInit(fn Hook) Option {
	return func(o *Options) {
		o.OnAfterInit = append(o.OnAfterInit, fn)
	}
}

// WithBeforeStart 添加启动前回调
func WithBeforeStart(fn Hook) Option {
	return func(o *Options) {
		o.OnBeforeStart = append(o.OnBeforeStart, fn)
	}
}

// WithAfterStart 添加启动后回调，失败只记录日志
func WithAfterStart(fn Hook) Option {
	return func(o *Options) {
		o.OnAfterStart = append(o.OnAfterStart, fn)
	}
}

// WithBeforeStop 添加关闭前回调
func WithBeforeStop(fn Hook) Option {
	return func(o *Options) {
		o.OnBeforeStop = append(o.OnBeforeStop, fn)
	}
}

// WithAfterStop 添加停止后回调
func WithAfterStop(fn Hook) Option {
	return func(o *Options) {
		o.OnAfterStop = append(o.OnAfterStop, fn)
	}
}
