package http

import (
	"context"

	"github.com/google/uuid"

	"github.com/MathisDulieu/Booking-sub000/codegen/snowflake"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlation_id"
	contextKeyCausationID   contextKey = "causation_id"
)

// traceIDs 链路 ID 生成器，节点号固定为 0
var traceIDs, _ = snowflake.NewGenerator(0, 0)

// WithCorrelationID 在 context 中设置 correlation_id
//
// Correlation ID 标识一次完整的业务流程，从 HTTP 请求开始，
// 经网关发出的每个 RPC 请求都携带同一个值。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationID, id)
}

// GetCorrelationID 从 context 中获取 correlation_id，不存在时返回空字符串
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKeyCorrelationID).(string)
	return id
}

// WithCausationID 在 context 中设置 causation_id
//
// Causation ID 标识直接原因：网关发出的 RPC 请求的原因是触发它的 HTTP 请求。
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCausationID, id)
}

// GetCausationID 从 context 中获取 causation_id，不存在时返回空字符串
func GetCausationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKeyCausationID).(string)
	return id
}

// GenerateCorrelationID 生成新的 correlation ID
func GenerateCorrelationID() string {
	return "cor-" + nextTraceID()
}

// GenerateCausationID 生成新的 causation ID
func GenerateCausationID() string {
	return "cau-" + nextTraceID()
}

// nextTraceID 时钟回拨时退回 UUID
func nextTraceID() string {
	if traceIDs != nil {
		if id, err := traceIDs.NextString(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}
