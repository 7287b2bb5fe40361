package basic

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"

	httpx "github.com/MathisDulieu/Booking-sub000/http"
)

// DefaultAddr 未配置监听地址时使用
const DefaultAddr = ":8080"

// HttpServer 基于标准库 net/http 的 IHttpServer 实现
//
// 路由以 "METHOD /path" 注册到 ServeMux，同一路径的不同方法互不冲突，
// 方法不匹配由 ServeMux 回复 405。路由在首个请求或 Serve 时一次性注册，
// 此后新增的路由不生效。
type HttpServer struct {
	config      httpx.WebConfig
	mux         *http.ServeMux
	routes      []*route
	middlewares []httpx.Middleware
	once        sync.Once
	mu          sync.RWMutex

	server *http.Server
	addr   net.Addr
}

type route struct {
	method  string
	pattern string
	handler httpx.HttpHandler
}

var _ httpx.IHttpServer = (*HttpServer)(nil)

// NewHTTPServer 创建基于 net/http 的服务器
func NewHTTPServer(config httpx.WebConfig) *HttpServer {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	return &HttpServer{config: config, mux: http.NewServeMux()}
}

func (s *HttpServer) GET(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.Handle(http.MethodGet, path, handler)
}
func (s *HttpServer) POST(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.Handle(http.MethodPost, path, handler)
}
func (s *HttpServer) PATCH(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.Handle(http.MethodPatch, path, handler)
}
func (s *HttpServer) DELETE(path string, handler httpx.HttpHandler) httpx.IHttpServer {
	return s.Handle(http.MethodDelete, path, handler)
}

func (s *HttpServer) Handle(method, path string, handler httpx.HttpHandler) httpx.IHttpServer {
	s.addRoute(method, path, handler)
	return s
}

func (s *HttpServer) addRoute(method, path string, handler httpx.HttpHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, &route{method: method, pattern: path, handler: handler})
}

// Group 路由分组
func (s *HttpServer) Group(prefix string) httpx.IRouteGroup {
	return &RouteGroup{prefix: prefix, server: s}
}

// Use 全局中间件，按注册顺序由外到内执行
func (s *HttpServer) Use(middleware ...httpx.Middleware) httpx.IHttpServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, middleware...)
	return s
}

func (s *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(s.registerRoutes)
	s.mux.ServeHTTP(w, r)
}

func (s *HttpServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server, s.addr = srv, ln.Addr()
	s.mu.Unlock()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop 停止接受新连接并等待进行中的请求
func (s *HttpServer) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// registerRoutes 注册全部路由，全局中间件在此刻固定
func (s *HttpServer) registerRoutes() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	global := slices.Clone(s.middlewares)
	for _, r := range s.routes {
		s.mux.HandleFunc(r.method+" "+convertPathPattern(r.pattern), s.createHandler(r, global))
	}
}

// convertPathPattern 将 :id 转为 {id}（ServeMux 的通配符写法）
func convertPathPattern(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}

func pathParamNames(pattern string) []string {
	var names []string
	for _, p := range strings.Split(strings.Trim(pattern, "/"), "/") {
		if strings.HasPrefix(p, ":") {
			names = append(names, p[1:])
		}
	}
	return names
}

func (s *HttpServer) createHandler(r *route, middlewares []httpx.Middleware) http.HandlerFunc {
	names := pathParamNames(r.pattern)
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := NewHttpContext(w, req, s.config.MaxBodyBytes)
		for _, name := range names {
			ctx.SetParam(name, req.PathValue(name))
		}
		if err := s.executeMiddlewareChain(ctx, middlewares, r.handler); err != nil && !ctx.Written() {
			_ = ErrorResponse(err).Send(ctx)
		}
	}
}

func (s *HttpServer) executeMiddlewareChain(ctx httpx.IHttpContext, middlewares []httpx.Middleware, handler httpx.HttpHandler) error {
	if len(middlewares) == 0 {
		return handler(ctx)
	}
	return middlewares[0](ctx, func() error { return s.executeMiddlewareChain(ctx, middlewares[1:], handler) })
}

// RouteGroup 实现 IRouteGroup
//
// 子分组继承创建时父分组的中间件；分组中间件在请求时读取，Use 可晚于路由注册。
type RouteGroup struct {
	prefix      string
	server      *HttpServer
	middlewares []httpx.Middleware
}

func (g *RouteGroup) GET(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.Handle(http.MethodGet, path, h)
}
func (g *RouteGroup) POST(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.Handle(http.MethodPost, path, h)
}
func (g *RouteGroup) PATCH(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.Handle(http.MethodPatch, path, h)
}
func (g *RouteGroup) DELETE(path string, h httpx.HttpHandler) httpx.IRouteGroup {
	return g.Handle(http.MethodDelete, path, h)
}

func (g *RouteGroup) Handle(method, path string, h httpx.HttpHandler) httpx.IRouteGroup {
	g.server.addRoute(method, g.prefix+path, g.wrap(h))
	return g
}

func (g *RouteGroup) Group(prefix string) httpx.IRouteGroup {
	return &RouteGroup{prefix: g.prefix + prefix, server: g.server, middlewares: slices.Clone(g.middlewares)}
}

func (g *RouteGroup) Use(mw ...httpx.Middleware) httpx.IRouteGroup {
	g.middlewares = append(g.middlewares, mw...)
	return g
}

func (g *RouteGroup) wrap(h httpx.HttpHandler) httpx.HttpHandler {
	return func(ctx httpx.IHttpContext) error { return g.server.executeMiddlewareChain(ctx, g.middlewares, h) }
}
