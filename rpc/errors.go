package rpc

import (
	"context"
	stdErrors "errors"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
)

// FromError 将处理器中的应用错误映射为固定错误标签
//
// 未分类错误映射为 INTERNAL_SERVER_ERROR；需要以 "error" 标签回复的异常应直接返回 error。
func FromError(err error) Result {
	if err == nil {
		return Internal("unknown error")
	}
	err = appErrors.Normalize(err)
	msg := err.Error()
	var appErr *appErrors.AppError
	if stdErrors.As(err, &appErr) {
		msg = appErr.Message()
	}

	switch appErrors.GetErrorCode(err) {
	case appErrors.ErrCodeNotFound:
		return NotFound(msg)
	case appErrors.ErrCodeForbidden:
		return Forbidden(msg)
	case appErrors.ErrCodeUnauthorized:
		return Unauthorized(msg)
	case appErrors.ErrCodeInvalidInput, appErrors.ErrCodeValidation, appErrors.ErrCodeConflict, appErrors.ErrCodeDuplicate:
		return BadRequest(msg)
	default:
		return Internal(msg)
	}
}

func serializationError(cause error) error {
	return appErrors.NewErrorWithCause(appErrors.ErrCodeSerialization, "failed to serialize request", cause)
}

// queueError 代理不可用或发布失败，cause 不能为 nil
func queueError(ctx context.Context, cause error) error {
	return appErrors.Wrap(ctx, cause, appErrors.ErrCodeQueue, "failed to publish request")
}

func timeoutError(cause error) error {
	return appErrors.NewErrorWithCause(appErrors.ErrCodeTimeout, "no response received", cause)
}

func deserializationError(msg string, cause error) error {
	return appErrors.NewErrorWithCause(appErrors.ErrCodeDeserialization, msg, cause)
}
