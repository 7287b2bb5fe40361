package rpc

import (
	"net/http"
)

// Outcome 标签翻译后的 HTTP 类结果
type Outcome struct {
	Status int
	Tag    string
	Body   any
}

// StatusFor 标签对应的状态码：固定错误标签按表映射，故障与空标签为 500，其余为 200
func StatusFor(tag string) int {
	switch tag {
	case TagNotFound:
		return http.StatusNotFound
	case TagForbidden:
		return http.StatusForbidden
	case TagUnauthorized:
		return http.StatusUnauthorized
	case TagBadRequest:
		return http.StatusBadRequest
	case TagInternalServerError, TagError, "":
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// Translate 纯函数：结果标签到 Outcome，对任何输入都有定义
func Translate(r Result) Outcome {
	return Outcome{Status: StatusFor(r.Tag), Tag: r.Tag, Body: r.Value}
}

// TranslateError 客户端协议故障（超时、传输、编解码）统一为 500
func TranslateError(err error) Outcome {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Status: http.StatusInternalServerError, Tag: TagInternalServerError, Body: msg}
}
