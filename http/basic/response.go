package basic

import (
	stdErrors "errors"
	"net/http"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
	httpx "github.com/MathisDulieu/Booking-sub000/http"
)

// JSONResponse 待写出的 JSON 响应
type JSONResponse struct {
	status  int
	headers map[string]string
	body    any
}

func NewJSONResponse(status int, body any) *JSONResponse {
	return &JSONResponse{status: status, body: body}
}

// WithHeader 附加响应头，空值忽略
func (r *JSONResponse) WithHeader(key, value string) *JSONResponse {
	if value == "" {
		return r
	}
	if r.headers == nil {
		r.headers = make(map[string]string, 1)
	}
	r.headers[key] = value
	return r
}

func (r *JSONResponse) Send(ctx httpx.IHttpContext) error {
	for k, v := range r.headers {
		ctx.SetHeader(k, v)
	}
	return ctx.JSON(r.status, r.body)
}

// ErrorResponse 处理器返回的错误按错误码映射状态码，正文为 {"code","message"}
func ErrorResponse(err error) *JSONResponse {
	code := appErrors.GetErrorCode(err)
	msg := err.Error()
	var appErr *appErrors.AppError
	if stdErrors.As(err, &appErr) {
		msg = appErr.Message()
	}
	return NewJSONResponse(statusFor(code), map[string]string{"code": string(code), "message": msg})
}

func statusFor(code appErrors.ErrorCode) int {
	switch code {
	case appErrors.ErrCodeInvalidInput, appErrors.ErrCodeValidation:
		return http.StatusBadRequest
	case appErrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case appErrors.ErrCodeForbidden:
		return http.StatusForbidden
	case appErrors.ErrCodeNotFound:
		return http.StatusNotFound
	case appErrors.ErrCodeConflict, appErrors.ErrCodeDuplicate:
		return http.StatusConflict
	case appErrors.ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case appErrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
