package rpc

import (
	"context"
	"time"
)

// CallOption 单次调用选项
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout 覆盖单次调用的超时
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Invoke 类型化调用：按操作定义选择交换机、路由键与回复形态
func Invoke[Req, Resp any](ctx context.Context, c *Client, op Operation[Req, Resp], req Req, opts ...CallOption) (Reply[Resp], error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := c.Call(ctx, op.Exchange(), op.Key().String(), req, o.timeout)
	if err != nil {
		return Reply[Resp]{}, err
	}
	return op.Decode(res)
}
