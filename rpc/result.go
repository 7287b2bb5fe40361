// Package rpc 在消息代理之上实现请求/回复调用：
// 客户端关联等待、服务端按路由键分发，以及统一的结果标签约定。
package rpc

import (
	"encoding/json"
	"fmt"
)

// 固定错误标签
const (
	TagNotFound            = "NOT_FOUND"
	TagForbidden           = "FORBIDDEN"
	TagUnauthorized        = "UNAUTHORIZED"
	TagBadRequest          = "BAD_REQUEST"
	TagInternalServerError = "INTERNAL_SERVER_ERROR"
)

// TagError 通用故障标签：未知路由键、解码失败、处理器异常
const TagError = "error"

// 常用成功标签
const (
	TagMessage      = "message"
	TagInformations = "informations"
	TagWarning      = "warning"
)

// Result 单条目标签结果，线上形态为 {"<tag>": value}
type Result struct {
	Tag   string
	Value any
}

// IsErrorTag 是否为固定错误标签
func IsErrorTag(tag string) bool {
	switch tag {
	case TagNotFound, TagForbidden, TagUnauthorized, TagBadRequest, TagInternalServerError:
		return true
	}
	return false
}

// IsError 是否为错误结果（固定错误标签、故障标签或空标签）
func (r Result) IsError() bool {
	return r.Tag == "" || r.Tag == TagError || IsErrorTag(r.Tag)
}

// Text 值为字符串时返回该字符串，否则返回其格式化文本
func (r Result) Text() string {
	switch v := r.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (r Result) String() string {
	return fmt.Sprintf("{%s: %v}", r.Tag, r.Value)
}

// Wire 线上形态
func (r Result) Wire() map[string]any {
	return map[string]any{r.Tag: r.Value}
}

// FromWire 由线上形态还原，要求恰好一个条目且标签非空
func FromWire(m map[string]any) (Result, error) {
	if len(m) != 1 {
		return Result{}, fmt.Errorf("tagged result must have exactly one entry, got %d", len(m))
	}
	for tag, value := range m {
		if tag == "" {
			return Result{}, fmt.Errorf("tagged result has an empty tag")
		}
		return Result{Tag: tag, Value: value}, nil
	}
	return Result{}, nil
}

// OK 成功结果
func OK(tag string, value any) Result {
	return Result{Tag: tag, Value: value}
}

// Message 成功消息 {"message": text}
func Message(text string) Result {
	return Result{Tag: TagMessage, Value: text}
}

// Warning 提示性结果 {"warning": text}
func Warning(text string) Result {
	return Result{Tag: TagWarning, Value: text}
}

// NestedResult 嵌套结果：值为 v 的 JSON 编码字符串
func NestedResult(tag string, v any) (Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return Result{Tag: tag, Value: string(data)}, nil
}

func NotFound(msg string) Result     { return Result{Tag: TagNotFound, Value: msg} }
func Forbidden(msg string) Result    { return Result{Tag: TagForbidden, Value: msg} }
func Unauthorized(msg string) Result { return Result{Tag: TagUnauthorized, Value: msg} }
func BadRequest(msg string) Result   { return Result{Tag: TagBadRequest, Value: msg} }
func Internal(msg string) Result     { return Result{Tag: TagInternalServerError, Value: msg} }

// Fault 通用故障 {"error": msg}
func Fault(msg string) Result { return Result{Tag: TagError, Value: msg} }
