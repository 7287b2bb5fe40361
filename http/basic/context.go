package basic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
	httpx "github.com/MathisDulieu/Booking-sub000/http"
)

// HttpContext 单个请求的 IHttpContext 实现，不可跨 goroutine 共享
type HttpContext struct {
	request *http.Request
	writer  http.ResponseWriter
	params  map[string]string
	values  map[string]any
	status  int
	written bool
	maxBody int64
}

var _ httpx.IHttpContext = (*HttpContext)(nil)

// NewHttpContext maxBodyBytes 为 0 时不限制请求体
func NewHttpContext(w http.ResponseWriter, r *http.Request, maxBodyBytes int64) *HttpContext {
	return &HttpContext{
		request: r,
		writer:  w,
		params:  make(map[string]string),
		values:  make(map[string]any),
		status:  http.StatusOK,
		maxBody: maxBodyBytes,
	}
}

func (c *HttpContext) GetMethod() string           { return c.request.Method }
func (c *HttpContext) GetPath() string             { return c.request.URL.Path }
func (c *HttpContext) GetParam(key string) string  { return c.params[key] }
func (c *HttpContext) GetQuery(key string) string  { return c.request.URL.Query().Get(key) }
func (c *HttpContext) GetHeader(key string) string { return c.request.Header.Get(key) }

func (c *HttpContext) BindJSON(obj any) error {
	var body io.Reader = c.request.Body
	if c.maxBody > 0 {
		body = http.MaxBytesReader(c.writer, c.request.Body, c.maxBody)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return appErrors.NewErrorWithCause(appErrors.ErrCodeInvalidInput, "invalid request body: "+err.Error(), err)
	}
	return nil
}

func (c *HttpContext) SetHeader(key, value string) { c.writer.Header().Set(key, value) }

func (c *HttpContext) JSON(code int, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return appErrors.WrapError(err, appErrors.ErrCodeSerialization, "failed to serialize JSON")
	}
	return c.write(code, "application/json", data)
}

func (c *HttpContext) String(code int, text string) error {
	return c.write(code, "text/plain; charset=utf-8", []byte(text))
}

func (c *HttpContext) write(code int, contentType string, data []byte) error {
	c.SetHeader("Content-Type", contentType)
	c.status, c.written = code, true
	c.writer.WriteHeader(code)
	_, err := c.writer.Write(data)
	return err
}

func (c *HttpContext) Status() int   { return c.status }
func (c *HttpContext) Written() bool { return c.written }

func (c *HttpContext) Set(key string, value any)  { c.values[key] = value }
func (c *HttpContext) Get(key string) (any, bool) { v, ok := c.values[key]; return v, ok }

func (c *HttpContext) Context() context.Context { return c.request.Context() }
func (c *HttpContext) SetContext(ctx context.Context) {
	c.request = c.request.WithContext(ctx)
}

func (c *HttpContext) SetParam(key, value string) { c.params[key] = value }
