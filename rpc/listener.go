package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MathisDulieu/Booking-sub000/codec"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	msgmw "github.com/MathisDulieu/Booking-sub000/messaging/middleware"
	"github.com/MathisDulieu/Booking-sub000/patterns/retry"
)

// UnknownRequestType 未注册路由键的故障消息
const UnknownRequestType = "Unknown request type"

// DefaultWorkers 默认并发处理数
const DefaultWorkers = 8

// replyTimeout 回复发布（含重试）的时限，独立于处理器截止时间
const replyTimeout = 10 * time.Second

// ListenerOption 监听器选项
type ListenerOption func(*Listener)

// WithWorkers 设置并发处理数
func WithWorkers(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithMiddleware 追加处理器中间件
func WithMiddleware(mws ...Middleware) ListenerOption {
	return func(l *Listener) { l.middlewares = append(l.middlewares, mws...) }
}

// WithReplyRetry 设置回复发布的重试策略
func WithReplyRetry(cfg retry.Config) ListenerOption {
	return func(l *Listener) { l.retry = cfg }
}

// WithHandlerTimeout 为每次处理设置截止时间，0 表示不限制
func WithHandlerTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) { l.handlerTimeout = d }
}

// WithListenerLogger 设置日志器
func WithListenerLogger(logger logging.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// ListenerStats 监听器统计
type ListenerStats struct {
	Received int64
	Replied  int64
	Faulted  int64
	InFlight int64
}

// Listener 服务端监听器：消费队列，按路由键分发，总是回复并确认
//
// 每个投递的状态：RECEIVED → DISPATCHED → {REPLIED | FAULTED → REPLIED}。
// 处理器的错误与 panic 在此边界被捕获，不会终止消费。
type Listener struct {
	broker         messaging.Broker
	bus            *messaging.Bus
	queue          string
	registry       *Registry
	workers        int
	middlewares    []Middleware
	retry          retry.Config
	handlerTimeout time.Duration
	logger         logging.Logger

	handler HandlerFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool

	// admitMu 保护 stopping 与 wg.Add，Stop 之后不再接纳新投递
	admitMu  sync.Mutex
	stopping bool

	received atomic.Int64
	replied  atomic.Int64
	faulted  atomic.Int64
	inFlight atomic.Int64
}

// NewListener 创建监听器
func NewListener(broker messaging.Broker, queue string, registry *Registry, opts ...ListenerOption) *Listener {
	l := &Listener{
		broker:   broker,
		queue:    queue,
		registry: registry,
		workers:  DefaultWorkers,
		retry:    retry.DefaultConfig(),
		logger:   logging.ComponentLogger("rpc.listener").WithFields(logging.String("queue", queue)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.bus = messaging.NewBus(broker)
	l.bus.Use(msgmw.NewTracingMiddleware())
	return l
}

// Start 冻结注册表并开始消费，非阻塞
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return fmt.Errorf("listener on %s already running", l.queue)
	}

	l.registry.Freeze()
	l.handler = Chain(l.middlewares...)(l.dispatch)
	l.sem = make(chan struct{}, l.workers)
	l.admitMu.Lock()
	l.stopping = false
	l.admitMu.Unlock()

	consumeCtx, cancel := context.WithCancel(ctx)
	if err := l.broker.Consume(consumeCtx, l.queue, l.onDelivery); err != nil {
		cancel()
		return err
	}
	l.cancel = cancel
	l.running = true

	l.logger.Info(ctx, "listener started",
		logging.Int("workers", l.workers),
		logging.Any("routing_keys", l.registry.Keys()))
	return nil
}

// Stop 停止接纳新投递，等待处理中的投递回复并确认后再停止消费
//
// 先排空再取消消费，传输层关闭通道时不会有未确认的已处理投递。
// ctx 到期时放弃等待并直接停止消费。
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	l.admitMu.Lock()
	l.stopping = true
	l.admitMu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		l.logger.Info(ctx, "listener stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("listener on %s: drain interrupted: %w", l.queue, ctx.Err())
	}
}

// Stats 运行统计
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Received: l.received.Load(),
		Replied:  l.replied.Load(),
		Faulted:  l.faulted.Load(),
		InFlight: l.inFlight.Load(),
	}
}

// onDelivery 获取工作槽后异步处理；槽满时阻塞消费协程形成背压
//
// 停止过程中到达的投递不处理，交还代理重投。
func (l *Listener) onDelivery(ctx context.Context, d *messaging.Delivery) {
	l.received.Add(1)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		l.abandon(ctx, d)
		return
	}

	l.admitMu.Lock()
	if l.stopping {
		l.admitMu.Unlock()
		<-l.sem
		l.abandon(ctx, d)
		return
	}
	l.wg.Add(1)
	l.admitMu.Unlock()

	l.inFlight.Add(1)
	go func() {
		defer func() {
			<-l.sem
			l.inFlight.Add(-1)
			l.wg.Done()
		}()
		l.process(context.WithoutCancel(ctx), d)
	}()
}

func (l *Listener) abandon(ctx context.Context, d *messaging.Delivery) {
	if err := d.Release(); err != nil {
		l.logger.Warn(ctx, "release delivery failed",
			logging.String("routing_key", d.RoutingKey),
			logging.Error(err))
	}
}

// process 单个投递的完整处理：分发、回复、确认
//
// 处理器截止时间只约束 invoke；回复在独立的上下文中发布，处理器超时后仍能回复故障。
func (l *Listener) process(ctx context.Context, d *messaging.Delivery) {
	handlerCtx := ctx
	if l.handlerTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, l.handlerTimeout)
		defer cancel()
	}

	result := l.invoke(handlerCtx, d)

	replyCtx, cancelReply := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancelReply()
	l.reply(replyCtx, d, result)

	if err := d.Ack(); err != nil {
		l.logger.Warn(ctx, "ack failed",
			logging.String("routing_key", d.RoutingKey),
			logging.Error(err))
	}
}

// invoke 执行处理链，错误与 panic 转为故障结果
func (l *Listener) invoke(ctx context.Context, d *messaging.Delivery) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			l.faulted.Add(1)
			l.logger.Error(ctx, "handler panic",
				logging.String("routing_key", d.RoutingKey),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			result = Fault(fmt.Sprint(r))
		}
	}()

	res, err := l.handler(ctx, d)
	if err != nil {
		l.faulted.Add(1)
		l.logger.Warn(ctx, "handler fault",
			logging.String("routing_key", d.RoutingKey),
			logging.String("correlation_id", d.CorrelationID),
			logging.Error(err))
		return Fault(err.Error())
	}
	if res.Tag == "" {
		l.faulted.Add(1)
		return Fault("handler returned an empty result")
	}
	return res
}

// dispatch 处理链末端：按路由键查找处理器
func (l *Listener) dispatch(ctx context.Context, d *messaging.Delivery) (Result, error) {
	handler, ok := l.registry.Lookup(d.RoutingKey)
	if !ok {
		l.logger.Warn(ctx, "unknown routing key", logging.String("routing_key", d.RoutingKey))
		return Fault(UnknownRequestType), nil
	}
	return handler(ctx, d)
}

// reply 以请求的内容类型编码结果并发布到 ReplyTo；无 ReplyTo 时跳过
func (l *Listener) reply(ctx context.Context, d *messaging.Delivery, result Result) {
	if d.ReplyTo == "" {
		return
	}

	cd, err := codec.ForContentType(d.ContentType)
	if err != nil {
		cd = codec.JSON
	}
	body, err := encodeResult(cd, result)
	if err != nil {
		result = Fault("failed to encode reply: " + err.Error())
		cd = codec.JSON
		body, _ = encodeResult(cd, result)
	}

	msg := messaging.NewMessage(messaging.DefaultExchange, d.ReplyTo, body)
	msg.CorrelationID = d.CorrelationID
	msg.ContentType = cd.ContentType()
	if traceID := d.Header(msgmw.KeyTraceID); traceID != "" {
		msg.SetHeader(msgmw.KeyTraceID, traceID)
	}
	msg.SetHeader(msgmw.KeyCausationID, d.ID)

	err = retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			l.logger.Debug(ctx, "retrying reply publish",
				logging.String("reply_to", d.ReplyTo),
				logging.Int("attempt", attempt))
		}
		return l.bus.Publish(ctx, msg)
	}, l.retry)
	if err != nil {
		l.logger.Error(ctx, "reply publish failed",
			logging.String("routing_key", d.RoutingKey),
			logging.String("reply_to", d.ReplyTo),
			logging.String("correlation_id", d.CorrelationID),
			logging.Error(err))
		return
	}
	l.replied.Add(1)
}
