// Package retry 提供带指数退避的重试
package retry

import (
	"context"
	"time"
)

// Operation 可重试的操作函数类型
type Operation func(ctx context.Context) error

// OperationWithInfo 接收当前尝试次数（从 1 开始）的操作
type OperationWithInfo func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数（指数退避）
	MaxDelay      time.Duration // 最大延迟

	// Retryable 判断错误是否值得重试，nil 表示全部重试
	Retryable func(err error) bool
}

// DefaultConfig 返回默认配置
//
// 默认值：
//   - MaxAttempts: 3（1次初始 + 2次重试）
//   - InitialDelay: 10ms
//   - BackoffFactor: 2.0
//   - MaxDelay: 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      1 * time.Second,
	}
}

// Do 执行带重试的操作
//
// 返回：
//   - nil（任意一次尝试成功）
//   - 最后一次执行的错误，或不可重试的错误
//   - ctx.Err()（等待退避期间上下文取消）
//
// 使用示例：
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return broker.Publish(ctx, reply)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	return DoWithInfo(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	}, cfg)
}

// DoWithInfo 执行带重试的操作，每次尝试都会传入当前尝试次数
func DoWithInfo(ctx context.Context, op OperationWithInfo, cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(Backoff(cfg, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return lastErr
}

// Backoff 第 attempt 次失败后的等待时间：InitialDelay * BackoffFactor^(attempt-1)，不超过 MaxDelay
func Backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= cfg.BackoffFactor
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && time.Duration(delay) > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}
