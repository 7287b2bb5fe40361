package errors

import (
	"context"
	"fmt"
	"runtime"

	"github.com/MathisDulieu/Booking-sub000/logging"
)

// Wrap 包装错误，添加错误码和上下文信息
// 建议：在Service/Handler层边界使用，添加业务上下文
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	wrapped := WrapError(err, code, msg)

	logging.GetLogger().Debug(ctx, "error wrapped",
		logging.String("message", msg),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)))

	return wrapped
}

// WrapWithLog 包装错误并记录警告日志
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	wrapped := WrapError(err, code, msg)

	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)

	logging.GetLogger().Warn(ctx, msg, allFields...)

	return wrapped
}

// WrapStoreError 包装文档存储错误
// 未找到类错误保持 NOT_FOUND 语义，其余归为 DATABASE_ERROR 并记录日志
func WrapStoreError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	normalized := Normalize(err)
	if IsNotFound(normalized) {
		return normalized
	}

	return WrapWithLog(ctx, err, ErrCodeDatabase,
		fmt.Sprintf("store operation failed: %s", operation),
		logging.String("operation", operation),
	)
}

// NewValidationError 创建新的验证错误
func NewValidationError(msg string) error {
	return NewError(ErrCodeValidation, msg)
}
