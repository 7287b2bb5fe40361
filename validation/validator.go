// Package validation 请求字段校验，失败时返回 VALIDATION_ERROR，处理器据此回复 BAD_REQUEST
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/MathisDulieu/Booking-sub000/errors"
)

// MaxPageSize 分页大小上限
const MaxPageSize = 100

func invalid(format string, args ...any) error {
	return errors.NewValidationError(fmt.Sprintf(format, args...))
}

// First 返回第一个非 nil 错误
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Required 必填字段
func Required(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

// Length 字符串长度，max 为 0 时不限上限
func Length(value, field string, min, max int) error {
	n := len([]rune(value))
	if n < min {
		return invalid("%s must be at least %d characters", field, min)
	}
	if max > 0 && n > max {
		return invalid("%s must be at most %d characters", field, max)
	}
	return nil
}

// Email 邮箱格式，只接受纯地址，不接受带显示名的形式
func Email(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return invalid("email %q is not a valid address", email)
	}
	return nil
}

// Password 密码强度
func Password(password string) error {
	return First(
		Required(password, "password"),
		Length(password, "password", 8, 72),
	)
}

// IntRange 整数范围（闭区间）
func IntRange(value int, field string, min, max int) error {
	if value < min || value > max {
		return invalid("%s must be between %d and %d", field, min, max)
	}
	return nil
}

// NonNegativeAmount 金额不能为负，单位为分
func NonNegativeAmount(cents int64, field string) error {
	if cents < 0 {
		return invalid("%s must not be negative", field)
	}
	return nil
}

// Future 时间必须晚于 now
func Future(t, now time.Time, field string) error {
	if t.IsZero() {
		return invalid("%s is required", field)
	}
	if !t.After(now) {
		return invalid("%s must be in the future", field)
	}
	return nil
}

// Enum 枚举值
func Enum(value, field string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return invalid("%s must be one of %s", field, strings.Join(valid, ", "))
}

// PageParams 分页参数，页码从 0 开始
func PageParams(page, size int) error {
	if page < 0 {
		return invalid("page must not be negative")
	}
	if size <= 0 || size > MaxPageSize {
		return invalid("size must be between 1 and %d", MaxPageSize)
	}
	return nil
}
