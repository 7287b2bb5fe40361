// Package errors 提供统一的应用错误模型：错误码、原因链与上下文详情
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	// 调用方错误，回复时映射为 BAD_REQUEST / UNAUTHORIZED / FORBIDDEN / NOT_FOUND
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeDuplicate    ErrorCode = "DUPLICATE_ERROR"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// 协议错误，由 RPC 客户端产生
	ErrCodeSerialization   ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeDeserialization ErrorCode = "DESERIALIZATION_ERROR"
	ErrCodeQueue           ErrorCode = "QUEUE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT"

	// 服务端故障
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase        ErrorCode = "DATABASE_ERROR"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// AppError 带错误码的应用错误
//
// 创建后不可变；WithContext 返回副本。
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

func newAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		code:    code,
		message: message,
		cause:   cause,
		stack:   captureStack(4),
	}
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) *AppError {
	return newAppError(code, message, nil)
}

// NewErrorWithCause 创建带原因的错误
func NewErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	return newAppError(code, message, cause)
}

// WrapError 包装错误，err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return newAppError(code, message, err)
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }

// Message 不含错误码与原因的消息，用作回复标签的值
func (e *AppError) Message() string { return e.message }

func (e *AppError) Cause() error { return e.cause }

func (e *AppError) Unwrap() error { return e.cause }

// Details 返回详情副本
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		return map[string]any{}
	}
	return maps.Clone(e.details)
}

func (e *AppError) Stack() string { return e.stack }

// Is 同错误码的 AppError 视为相同，否则沿原因链比较
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	return e.cause != nil && stdErrors.Is(e.cause, target)
}

// WithContext 返回附加一条详情的副本
func (e *AppError) WithContext(key string, value any) *AppError {
	cp := *e
	cp.details = maps.Clone(e.details)
	if cp.details == nil {
		cp.details = make(map[string]any, 1)
	}
	cp.details[key] = value
	return &cp
}

// 预定义错误，供 errors.Is 按错误码比较
var (
	ErrInternal        = NewError(ErrCodeInternal, "internal server error")
	ErrInvalidInput    = NewError(ErrCodeInvalidInput, "invalid input")
	ErrNotFound        = NewError(ErrCodeNotFound, "resource not found")
	ErrUnauthorized    = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrForbidden       = NewError(ErrCodeForbidden, "forbidden")
	ErrTimeout         = NewError(ErrCodeTimeout, "no response received")
	ErrValidation      = NewError(ErrCodeValidation, "validation failed")
	ErrQueue           = NewError(ErrCodeQueue, "broker unavailable")
	ErrSerialization   = NewError(ErrCodeSerialization, "serialization failed")
	ErrDeserialization = NewError(ErrCodeDeserialization, "deserialization failed")
)

func IsNotFound(err error) bool { return IsErrorCode(err, ErrCodeNotFound) }

func IsTimeout(err error) bool { return IsErrorCode(err, ErrCodeTimeout) }

// IsErrorCode 检查错误链中最外层 AppError 的错误码
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stdErrors.As(err, &appErr) && appErr.code == code
}

// GetErrorCode 获取错误码，非 AppError 视为 INTERNAL_ERROR，nil 返回空串
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

func captureStack(skip int) string {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return b.String()
}
