package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MathisDulieu/Booking-sub000/cache"
	"github.com/MathisDulieu/Booking-sub000/codec"
	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	msgmw "github.com/MathisDulieu/Booking-sub000/messaging/middleware"
)

// DefaultTimeout 调用未指定超时时使用
const DefaultTimeout = 15 * time.Second

// ClientOption 客户端选项
type ClientOption func(*Client)

// WithDefaultTimeout 设置默认超时
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithResolvedTTL 设置超时令牌的保留时长，用于识别迟到回复
func WithResolvedTTL(d time.Duration) ClientOption {
	return func(c *Client) { c.resolvedTTL = d }
}

// WithCodec 设置请求编码
func WithCodec(cd codec.Codec) ClientOption {
	return func(c *Client) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithClientLogger 设置日志器
func WithClientLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ClientStats 客户端统计
type ClientStats struct {
	Pending   int
	Calls     int64
	Timeouts  int64
	Late      int64
	Unmatched int64
}

// Client 经由代理的请求/回复客户端
//
// 所有调用共享一个私有回复队列，回复按关联令牌匹配到等待中的调用。
// 超时的令牌在 resolvedTTL 内被记住，期间到达的回复记为迟到并丢弃。
type Client struct {
	bus         *messaging.Bus
	codec       codec.Codec
	timeout     time.Duration
	resolvedTTL time.Duration
	logger      logging.Logger

	replyQueue string
	pending    *pendingTable
	resolved   *cache.Cache[string, struct{}]

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool

	calls     atomic.Int64
	timeouts  atomic.Int64
	late      atomic.Int64
	unmatched atomic.Int64
}

// NewClient 声明回复队列并开始消费回复
//
// ctx 只用于启动阶段；客户端生命周期由 Close 结束。代理由调用方持有并关闭。
func NewClient(ctx context.Context, broker messaging.Broker, opts ...ClientOption) (*Client, error) {
	c := &Client{
		codec:   codec.JSON,
		timeout: DefaultTimeout,
		logger:  logging.ComponentLogger("rpc.client"),
		pending: newPendingTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolvedTTL <= 0 {
		c.resolvedTTL = 2 * c.timeout
	}
	c.resolved = cache.New[string, struct{}](cache.Config{
		Name:    "rpc.resolved",
		MaxSize: 100000,
		TTL:     c.resolvedTTL,
		Mode:    cache.ExpireAfterWrite,
	})

	c.bus = messaging.NewBus(broker)
	c.bus.Use(msgmw.NewTracingMiddleware())

	replyQueue, err := broker.DeclareReplyQueue(ctx)
	if err != nil {
		return nil, appErrors.WrapError(err, appErrors.ErrCodeQueue, "failed to declare reply queue")
	}
	c.replyQueue = replyQueue

	consumeCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err := broker.Consume(consumeCtx, replyQueue, c.onReply); err != nil {
		cancel()
		return nil, appErrors.WrapError(err, appErrors.ErrCodeQueue, "failed to consume reply queue")
	}
	go c.resolved.RunJanitor(consumeCtx, c.resolvedTTL)

	c.logger.Info(ctx, "rpc client ready",
		logging.String("reply_queue", replyQueue),
		logging.Duration("default_timeout", c.timeout))
	return c, nil
}

// ReplyQueue 回复队列地址
func (c *Client) ReplyQueue() string { return c.replyQueue }

// DefaultTimeout 默认超时
func (c *Client) DefaultTimeout() time.Duration { return c.timeout }

// Call 发布请求并等待关联回复
//
// timeout <= 0 使用默认超时；ctx 的截止时间同样约束本次调用。
// 错误码：SERIALIZATION_ERROR、QUEUE_ERROR、TIMEOUT、DESERIALIZATION_ERROR。
func (c *Client) Call(ctx context.Context, exchange, routingKey string, request any, timeout time.Duration) (Result, error) {
	if c.closed.Load() {
		return Result{}, queueError(ctx, messaging.ErrBrokerClosed)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	body, err := c.codec.Marshal(request)
	if err != nil {
		return Result{}, serializationError(err)
	}

	token := uuid.NewString()
	msg := messaging.NewMessage(exchange, routingKey, body)
	msg.CorrelationID = token
	msg.ReplyTo = c.replyQueue
	msg.ContentType = c.codec.ContentType()

	call, err := c.pending.register(token, routingKey, time.Now().Add(timeout))
	if err != nil {
		return Result{}, queueError(ctx, err)
	}
	c.calls.Add(1)

	if err := c.bus.Publish(ctx, msg); err != nil {
		c.pending.remove(token)
		return Result{}, queueError(ctx, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-call.done:
		return out.result, out.err
	case <-timer.C:
		return c.abandon(ctx, token, call, timeoutError(nil))
	case <-ctx.Done():
		return c.abandon(ctx, token, call, timeoutError(ctx.Err()))
	}
}

// abandon 超时或取消：取走等待条目并记住令牌；若回复已抢先取走条目，则返回该回复
func (c *Client) abandon(ctx context.Context, token string, call *pendingCall, err error) (Result, error) {
	c.resolved.Set(token, struct{}{})
	if !c.pending.remove(token) {
		c.resolved.Delete(token)
		out := <-call.done
		return out.result, out.err
	}
	c.timeouts.Add(1)
	c.logger.Warn(ctx, "rpc call timed out",
		logging.String("routing_key", call.key),
		logging.String("correlation_id", token),
		logging.Error(err))
	return Result{}, err
}

// Notify 发布不需要回复的请求
func (c *Client) Notify(ctx context.Context, exchange, routingKey string, request any) error {
	if c.closed.Load() {
		return queueError(ctx, messaging.ErrBrokerClosed)
	}
	body, err := c.codec.Marshal(request)
	if err != nil {
		return serializationError(err)
	}
	msg := messaging.NewMessage(exchange, routingKey, body)
	msg.ContentType = c.codec.ContentType()
	if err := c.bus.Publish(ctx, msg); err != nil {
		return queueError(ctx, err)
	}
	return nil
}

// onReply 回复队列的投递处理
func (c *Client) onReply(ctx context.Context, d *messaging.Delivery) {
	defer func() { _ = d.Ack() }()

	token := d.CorrelationID
	if !c.pending.contains(token) {
		c.discard(ctx, token, d)
		return
	}

	out := callOutcome{}
	out.result, out.err = decodeResult(d.Message)
	if !c.pending.resolve(token, out) {
		c.discard(ctx, token, d)
	}
}

func (c *Client) discard(ctx context.Context, token string, d *messaging.Delivery) {
	if _, late := c.resolved.Take(token); late {
		c.late.Add(1)
		c.logger.Info(ctx, "late reply discarded",
			logging.String("correlation_id", token),
			logging.String("message_id", d.ID))
		return
	}
	c.unmatched.Add(1)
	c.logger.Warn(ctx, "unmatched reply discarded",
		logging.String("correlation_id", token),
		logging.String("message_id", d.ID))
}

// Stats 运行统计
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Pending:   c.pending.len(),
		Calls:     c.calls.Load(),
		Timeouts:  c.timeouts.Load(),
		Late:      c.late.Load(),
		Unmatched: c.unmatched.Load(),
	}
}

// Close 停止消费回复，未完成的调用以 QUEUE_ERROR 结束
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		n := c.pending.drain(callOutcome{err: queueError(context.Background(), messaging.ErrBrokerClosed)})
		c.resolved.Clear()
		c.logger.Info(context.Background(), "rpc client closed", logging.Int("abandoned_calls", n))
	})
	return nil
}

// decodeResult 按消息内容类型解码标签结果
func decodeResult(msg *messaging.Message) (Result, error) {
	cd, err := codec.ForContentType(msg.ContentType)
	if err != nil {
		return Result{}, deserializationError("unsupported reply content type", err)
	}
	var wire map[string]any
	if err := cd.Unmarshal(msg.Body, &wire); err != nil {
		return Result{}, deserializationError("failed to decode reply", err)
	}
	res, err := FromWire(wire)
	if err != nil {
		return Result{}, deserializationError("malformed tagged result", err)
	}
	return res, nil
}

// encodeResult 编码标签结果
func encodeResult(cd codec.Codec, res Result) ([]byte, error) {
	return cd.Marshal(res.Wire())
}
