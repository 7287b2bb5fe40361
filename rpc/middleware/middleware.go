// Package middleware 提供监听器处理链的通用中间件
package middleware

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	msgmw "github.com/MathisDulieu/Booking-sub000/messaging/middleware"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// RateLimitExceeded 限流时的故障消息
const RateLimitExceeded = "rate limit exceeded"

type ctxKey struct{}

// CorrelationID 读取处理上下文中的关联令牌
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Tracing 将入站消息的链路信息与关联令牌放入 Context，处理器发出的消息沿用同一 trace_id
func Tracing() rpc.Middleware {
	return func(next rpc.HandlerFunc) rpc.HandlerFunc {
		return func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
			ctx = msgmw.WithTrace(ctx, msgmw.TraceFromMessage(d.Message))
			ctx = context.WithValue(ctx, ctxKey{}, d.CorrelationID)
			return next(ctx, d)
		}
	}
}

// Logging 记录每次处理的路由键、结果标签与耗时
func Logging(logger logging.Logger) rpc.Middleware {
	if logger == nil {
		logger = logging.ComponentLogger("rpc.handler")
	}
	return func(next rpc.HandlerFunc) rpc.HandlerFunc {
		return func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
			start := time.Now()
			res, err := next(ctx, d)

			fields := []logging.Field{
				logging.String("routing_key", d.RoutingKey),
				logging.String("correlation_id", d.CorrelationID),
				logging.String("trace_id", msgmw.TraceFromContext(ctx).TraceID),
				logging.Duration("duration", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Warn(ctx, "request failed", append(fields, logging.Error(err))...)
			case res.IsError():
				logger.Info(ctx, "request handled", append(fields, logging.String("tag", res.Tag))...)
			default:
				logger.Debug(ctx, "request handled", append(fields, logging.String("tag", res.Tag))...)
			}
			return res, err
		}
	}
}

// RateLimit 令牌桶限流，超限时以 {"error": "rate limit exceeded"} 回复
func RateLimit(limiter *rate.Limiter) rpc.Middleware {
	return func(next rpc.HandlerFunc) rpc.HandlerFunc {
		return func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
			if limiter != nil && !limiter.Allow() {
				return rpc.Fault(RateLimitExceeded), nil
			}
			return next(ctx, d)
		}
	}
}

// NewLimiter 按每秒速率与突发量创建限流器，rps <= 0 表示不限流
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
