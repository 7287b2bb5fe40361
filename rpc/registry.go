package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/MathisDulieu/Booking-sub000/codec"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// HandlerFunc 路由键处理器；返回 error 时监听器以 {"error": msg} 回复
type HandlerFunc func(ctx context.Context, d *messaging.Delivery) (Result, error)

// Middleware 处理器中间件
type Middleware func(next HandlerFunc) HandlerFunc

// Chain 组合中间件，第一个位于最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Handle 类型化适配：按投递的内容类型解码请求后调用 fn
func Handle[Req any](fn func(ctx context.Context, req Req) (Result, error)) HandlerFunc {
	return func(ctx context.Context, d *messaging.Delivery) (Result, error) {
		cd, err := codec.ForContentType(d.ContentType)
		if err != nil {
			return Result{}, err
		}
		var req Req
		if err := cd.Unmarshal(d.Body, &req); err != nil {
			return Result{}, fmt.Errorf("invalid request payload for %s: %w", d.RoutingKey, err)
		}
		return fn(ctx, req)
	}
}

// Registry 路由键到处理器的静态注册表
//
// 只接受本领域的路由键，重复注册报错；Freeze 之后只读。
type Registry struct {
	domain   string
	handlers map[messaging.RoutingKey]HandlerFunc
	frozen   atomic.Bool
}

// NewRegistry 创建领域注册表
func NewRegistry(domain string) *Registry {
	return &Registry{domain: domain, handlers: make(map[messaging.RoutingKey]HandlerFunc)}
}

// Domain 注册表所属领域
func (r *Registry) Domain() string { return r.domain }

// Register 注册处理器
func (r *Registry) Register(key string, handler HandlerFunc) error {
	if r.frozen.Load() {
		return fmt.Errorf("registry %s is frozen, cannot register %s", r.domain, key)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %s", key)
	}
	rk, err := messaging.ParseRoutingKey(key)
	if err != nil {
		return err
	}
	if rk.Domain() != r.domain {
		return fmt.Errorf("routing key %s does not belong to domain %s", key, r.domain)
	}
	if _, exists := r.handlers[rk]; exists {
		return fmt.Errorf("duplicate handler for %s", key)
	}
	r.handlers[rk] = handler
	return nil
}

// Route 类型化注册：操作定义提供路由键
func Route[Req, Resp any](r *Registry, op Operation[Req, Resp], fn func(ctx context.Context, req Req) (Result, error)) error {
	return r.Register(op.Key().String(), Handle(fn))
}

// Lookup 精确匹配路由键
func (r *Registry) Lookup(key string) (HandlerFunc, bool) {
	h, ok := r.handlers[messaging.RoutingKey(key)]
	return h, ok
}

// Keys 已注册的路由键（排序）
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

// Freeze 冻结注册表，监听器启动时调用
func (r *Registry) Freeze() { r.frozen.Store(true) }

// Frozen 是否已冻结
func (r *Registry) Frozen() bool { return r.frozen.Load() }
