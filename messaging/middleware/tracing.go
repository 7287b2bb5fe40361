package middleware

import (
	"context"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// 链路字段名，同时用作消息头与 Context 键
const (
	KeyCorrelationID = "correlation_id"
	KeyCausationID   = "causation_id"
	KeyTraceID       = "trace_id"
)

type ctxKey string

// Trace 一次调用链路信息
type Trace struct {
	TraceID     string
	CausationID string
}

// WithTrace 将链路信息放入 Context
func WithTrace(ctx context.Context, tr Trace) context.Context {
	ctx = context.WithValue(ctx, ctxKey(KeyTraceID), tr.TraceID)
	return context.WithValue(ctx, ctxKey(KeyCausationID), tr.CausationID)
}

// TraceFromContext 读取 Context 中的链路信息
func TraceFromContext(ctx context.Context) Trace {
	traceID, _ := ctx.Value(ctxKey(KeyTraceID)).(string)
	causation, _ := ctx.Value(ctxKey(KeyCausationID)).(string)
	return Trace{TraceID: traceID, CausationID: causation}
}

// TraceFromMessage 从入站消息头提取链路，缺失时以消息ID兜底
// 入站消息即后续出站消息的因果
func TraceFromMessage(msg *messaging.Message) Trace {
	traceID := msg.Header(KeyTraceID)
	if traceID == "" {
		traceID = msg.ID
	}
	return Trace{TraceID: traceID, CausationID: msg.ID}
}

// TracingMiddleware 出站时注入 trace_id/causation_id 头
//
// 规则：
// - 已有头部保持不变
// - 否则优先从 Context 继承；仍缺失则使用消息ID兜底（顶层请求的因果即自身）
type TracingMiddleware struct{}

func NewTracingMiddleware() *TracingMiddleware { return &TracingMiddleware{} }

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, msg *messaging.Message, next messaging.PublishFunc) error {
	if msg == nil {
		return next(ctx, msg)
	}
	tr := TraceFromContext(ctx)

	if msg.Header(KeyTraceID) == "" {
		if tr.TraceID != "" {
			msg.SetHeader(KeyTraceID, tr.TraceID)
		} else {
			msg.SetHeader(KeyTraceID, msg.ID)
		}
	}
	if msg.Header(KeyCausationID) == "" {
		if tr.CausationID != "" {
			msg.SetHeader(KeyCausationID, tr.CausationID)
		} else {
			msg.SetHeader(KeyCausationID, msg.ID)
		}
	}
	if msg.CorrelationID != "" && msg.Header(KeyCorrelationID) == "" {
		msg.SetHeader(KeyCorrelationID, msg.CorrelationID)
	}

	return next(ctx, msg)
}
