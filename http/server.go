package http

import (
	"context"
	"net"
	stdhttp "net/http"
	"time"
)

// WebConfig 监听与请求限制
type WebConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes 请求体上限，0 不限制
	MaxBodyBytes int64
}

// Middleware 中间件签名，调用 next 进入下一层，不调用即短路
type Middleware func(ctx IHttpContext, next func() error) error

// IRouteGroup 共享前缀与中间件的一组路由
type IRouteGroup interface {
	GET(path string, handler HttpHandler) IRouteGroup
	POST(path string, handler HttpHandler) IRouteGroup
	PATCH(path string, handler HttpHandler) IRouteGroup
	DELETE(path string, handler HttpHandler) IRouteGroup
	Handle(method, path string, handler HttpHandler) IRouteGroup

	Group(prefix string) IRouteGroup
	Use(middleware ...Middleware) IRouteGroup
}

// IHttpServer HTTP 服务器接口
type IHttpServer interface {
	stdhttp.Handler

	GET(path string, handler HttpHandler) IHttpServer
	POST(path string, handler HttpHandler) IHttpServer
	PATCH(path string, handler HttpHandler) IHttpServer
	DELETE(path string, handler HttpHandler) IHttpServer
	Handle(method, path string, handler HttpHandler) IHttpServer

	Group(prefix string) IRouteGroup
	Use(middleware ...Middleware) IHttpServer

	// Serve 监听并阻塞到 Stop，正常关闭返回 nil
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error

	// Addr 实际监听地址，Serve 之前为 nil
	Addr() net.Addr
}
