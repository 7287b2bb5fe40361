package logging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger 基于 zap 的 Logger 实现，服务进程默认使用
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger 按级别与格式构建 zap Logger
//
// 参数:
//   - level: 最低输出级别
//   - format: "json"（默认）或 "console"
func NewZapLogger(level Level, format string) (*ZapLogger, error) {
	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{z: z}, nil
}

// NewZapLoggerFrom 包装已有的 zap.Logger
func NewZapLoggerFrom(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{z: z}
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.z.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.z.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.z.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) WithFields(fields ...Field) Logger {
	return &ZapLogger{z: l.z.With(toZapFields(fields)...)}
}

// Sync 刷新缓冲，进程退出前调用
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}
