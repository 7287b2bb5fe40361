package messaging

import (
	"context"
	"fmt"
	"sync"
)

// PublishFunc 发布函数，中间件链中的基本执行单元
type PublishFunc func(ctx context.Context, msg *Message) error

// IMiddleware 出站中间件接口
type IMiddleware interface {
	Handle(ctx context.Context, msg *Message, next PublishFunc) error
	Name() string
}

// Bus 在 Broker 之上执行出站中间件（链路头注入等）后发布
type Bus struct {
	broker      Broker
	middlewares []IMiddleware
	mutex       sync.RWMutex
}

// NewBus 创建消息总线
func NewBus(broker Broker) *Bus {
	return &Bus{
		broker:      broker,
		middlewares: make([]IMiddleware, 0),
	}
}

// Broker 返回底层代理
func (bus *Bus) Broker() Broker {
	return bus.broker
}

// Use 注册中间件，按注册顺序执行
func (bus *Bus) Use(middleware IMiddleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)
}

// Publish 发布消息，并在发送到 Broker 前执行中间件
func (bus *Bus) Publish(ctx context.Context, msg *Message) error {
	return bus.executeMiddlewares(ctx, msg, bus.broker.Publish)
}

// PublishAll 依次发布多条消息，遇错即停
func (bus *Bus) PublishAll(ctx context.Context, msgs []*Message) error {
	for _, msg := range msgs {
		if err := bus.Publish(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// executeMiddlewares 构建并执行中间件链
func (bus *Bus) executeMiddlewares(ctx context.Context, msg *Message, final PublishFunc) error {
	bus.mutex.RLock()
	middlewares := bus.middlewares
	bus.mutex.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		middleware := middlewares[i]
		currentNext := next
		next = func(ctx context.Context, m *Message) error {
			return middleware.Handle(ctx, m, currentNext)
		}
	}
	return next(ctx, msg)
}
