package http

import "context"

// IRequestReader 请求读取
type IRequestReader interface {
	GetMethod() string
	GetPath() string

	// GetParam 路径参数，路由中以 :name 声明
	GetParam(key string) string
	GetQuery(key string) string
	GetHeader(key string) string

	// BindJSON 按 JSON 解码请求体，未知字段视为错误
	BindJSON(obj any) error
}

// IResponseWriter 响应写入
type IResponseWriter interface {
	SetHeader(key, value string)
	JSON(code int, obj any) error
	String(code int, text string) error

	// Status 已写出的状态码，未写出时为 200
	Status() int
	Written() bool
}

// IContextStorage 请求内键值存储，中间件向处理器传值
type IContextStorage interface {
	Set(key string, value any)
	Get(key string) (any, bool)
}

// IHttpContext 组合接口
type IHttpContext interface {
	IRequestReader
	IResponseWriter
	IContextStorage

	// Context 请求的 context.Context，中间件可用 SetContext 替换
	Context() context.Context
	SetContext(ctx context.Context)
}

// HttpHandler 处理器函数类型
type HttpHandler func(ctx IHttpContext) error
