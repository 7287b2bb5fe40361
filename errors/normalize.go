package errors

import (
	"context"
	stdErrors "errors"

	"github.com/MathisDulieu/Booking-sub000/storage/document"
)

// Normalize 将基础设施层的错误规范化为 AppError。
//
// 注意：
//   - 如果传入的 err 已经是 AppError，则原样返回；
//   - 未识别的错误保持原样，不强行包装，交由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*AppError); ok {
		return err
	}

	switch {
	case stdErrors.Is(err, document.ErrNotFound):
		return WrapError(err, ErrCodeNotFound, "document not found")
	case stdErrors.Is(err, document.ErrInvalidID):
		return WrapError(err, ErrCodeInvalidInput, "invalid document id")
	case stdErrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, ErrCodeTimeout, "deadline exceeded")
	case stdErrors.Is(err, context.Canceled):
		return WrapError(err, ErrCodeTimeout, "call cancelled")
	}

	return err
}
