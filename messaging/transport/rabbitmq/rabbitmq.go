// Package rabbitmq 基于 RabbitMQ (AMQP 0-9-1) 的消息代理实现
//
// 交换机、队列与绑定直接映射到 RabbitMQ 原语；回复队列为服务器命名的独占队列。
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// Config AMQP 代理配置
type Config struct {
	URL string

	// Prefetch 每个消费通道的未确认上限，<=0 时为 16
	Prefetch int

	// DrainTimeout 停止消费后等待处理中投递确认的上限，<=0 时为 10s
	DrainTimeout time.Duration

	// Conn 复用外部连接，设置后忽略 URL，Close 不关闭该连接
	Conn   *amqp.Connection
	Logger logging.Logger
}

// Broker messaging.Broker 的 RabbitMQ 实现
type Broker struct {
	cfg      Config
	conn     *amqp.Connection
	ownsConn bool
	logger   logging.Logger

	// pub 发布专用通道，amqp 通道不支持并发帧写入
	pubMu sync.Mutex
	pub   *amqp.Channel

	mu        sync.RWMutex
	running   bool
	closed    bool
	exchanges map[string]bool
	queues    map[string]bool
	channels  []*amqp.Channel
	wg        sync.WaitGroup

	consumers   atomic.Int64
	consumerSeq atomic.Int64
	published atomic.Int64
	delivered atomic.Int64
}

// Dial 连接 RabbitMQ 并打开发布通道
func Dial(cfg Config) (*Broker, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("broker.amqp")
	}

	conn := cfg.Conn
	owns := false
	if conn == nil {
		if cfg.URL == "" {
			return nil, errors.New("amqp: url is required")
		}
		var err error
		conn, err = amqp.Dial(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("amqp: dial: %w", err)
		}
		owns = true
	}

	pub, err := conn.Channel()
	if err != nil {
		if owns {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}

	b := &Broker{
		cfg:       cfg,
		conn:      conn,
		ownsConn:  owns,
		logger:    cfg.Logger,
		pub:       pub,
		running:   true,
		exchanges: make(map[string]bool),
		queues:    make(map[string]bool),
	}
	go b.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return b, nil
}

// watch 记录连接意外断开
func (b *Broker) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok || err == nil {
		return
	}
	b.logger.Error(context.Background(), "amqp connection lost",
		logging.Int("code", err.Code),
		logging.String("reason", err.Reason))
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// Declare 幂等声明拓扑
//
// 声明失败会关闭所用通道，因此每次声明使用独立通道。
func (b *Broker) Declare(ctx context.Context, topology messaging.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}
	if !b.isRunning() {
		return messaging.ErrBrokerClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	defer ch.Close()

	for _, ex := range topology.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, string(ex.Kind), ex.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range topology.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare queue %s: %w", q.Name, err)
		}
	}
	for _, bd := range topology.Bindings {
		if err := ch.QueueBind(bd.Queue, bd.Pattern, bd.Exchange, false, nil); err != nil {
			return fmt.Errorf("amqp: bind %s to %s: %w", bd.Queue, bd.Exchange, err)
		}
	}

	b.mu.Lock()
	for _, ex := range topology.Exchanges {
		b.exchanges[ex.Name] = true
	}
	for _, q := range topology.Queues {
		b.queues[q.Name] = true
	}
	b.mu.Unlock()
	return nil
}

// DeclareReplyQueue 声明服务器命名的独占自动删除队列
func (b *Broker) DeclareReplyQueue(ctx context.Context) (string, error) {
	if !b.isRunning() {
		return "", messaging.ErrBrokerClosed
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	q, err := b.pub.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("amqp: declare reply queue: %w", err)
	}
	b.mu.Lock()
	b.queues[q.Name] = true
	b.mu.Unlock()
	return q.Name, nil
}

// Publish 发布消息
//
// 首次发布到未在本进程声明的交换机时被动检查其存在性，不存在返回 messaging.ErrUnknownExchange。
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if !b.isRunning() {
		return messaging.ErrBrokerClosed
	}
	if err := b.checkExchange(msg.Exchange); err != nil {
		return err
	}

	b.pubMu.Lock()
	err := b.pub.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, toPublishing(msg))
	b.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("amqp: publish %s/%s: %w", msg.Exchange, msg.RoutingKey, err)
	}
	b.published.Add(1)
	return nil
}

func (b *Broker) checkExchange(name string) error {
	if name == messaging.DefaultExchange {
		return nil
	}
	b.mu.RLock()
	known := b.exchanges[name]
	b.mu.RUnlock()
	if known {
		return nil
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	err = ch.ExchangeDeclarePassive(name, string(messaging.ExchangeTopic), true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return fmt.Errorf("%s: %w", name, messaging.ErrUnknownExchange)
		}
		return fmt.Errorf("amqp: check exchange %s: %w", name, err)
	}

	b.mu.Lock()
	b.exchanges[name] = true
	b.mu.Unlock()
	return nil
}

// Consume 在独立通道上开始消费，投递需手动确认
func (b *Broker) Consume(ctx context.Context, queue string, handler messaging.DeliveryHandler) error {
	if handler == nil {
		return errors.New("nil delivery handler")
	}
	if !b.isRunning() {
		return messaging.ErrBrokerClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqp: qos: %w", err)
	}
	tag := fmt.Sprintf("%s-%d", queue, b.consumerSeq.Add(1))
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return fmt.Errorf("consume %s: %w", queue, messaging.ErrUnknownQueue)
		}
		return fmt.Errorf("amqp: consume %s: %w", queue, err)
	}

	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.wg.Add(1)
	b.mu.Unlock()
	b.consumers.Add(1)

	go b.consume(ctx, ch, queue, tag, deliveries, handler)
	return nil
}

func (b *Broker) consume(ctx context.Context, ch *amqp.Channel, queue, tag string, deliveries <-chan amqp.Delivery, handler messaging.DeliveryHandler) {
	defer b.wg.Done()
	defer b.consumers.Add(-1)

	// outstanding 已交给处理器但尚未确认或释放的投递
	var outstanding sync.WaitGroup
	dispatch := func(d amqp.Delivery) {
		b.delivered.Add(1)
		outstanding.Add(1)
		var once sync.Once
		settle := func(fn func() error) func() error {
			return func() error {
				defer once.Do(outstanding.Done)
				return fn()
			}
		}
		delivery := messaging.NewDelivery(fromDelivery(&d), queue, settle(func() error {
			return d.Ack(false)
		})).WithRelease(settle(func() error {
			return d.Nack(false, true)
		}))
		delivery.Redelivered = d.Redelivered
		handler(ctx, delivery)
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			dispatch(d)

		case <-ctx.Done():
			b.stopConsumer(ch, queue, tag, deliveries, dispatch, &outstanding)
			return
		}
	}
}

// stopConsumer 取消消费者，余下投递交给处理器释放，等处理中的投递确认后再关闭通道
func (b *Broker) stopConsumer(ch *amqp.Channel, queue, tag string, deliveries <-chan amqp.Delivery, dispatch func(amqp.Delivery), outstanding *sync.WaitGroup) {
	if err := ch.Cancel(tag, false); err == nil {
		for d := range deliveries {
			dispatch(d)
		}
	} else {
		b.logger.Warn(context.Background(), "amqp consumer cancel failed",
			logging.String("queue", queue),
			logging.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		outstanding.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(b.cfg.DrainTimeout):
		b.logger.Warn(context.Background(), "amqp consumer drain timed out, unacked deliveries return to queue",
			logging.String("queue", queue))
	}
	_ = ch.Close()
}

// Close 关闭所有通道，拥有连接时一并关闭
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.running = false
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	b.wg.Wait()

	b.pubMu.Lock()
	_ = b.pub.Close()
	b.pubMu.Unlock()

	if b.ownsConn {
		if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

// Stats 运行统计，交换机与队列仅包含本进程声明过的
func (b *Broker) Stats() messaging.BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return messaging.BrokerStats{
		Kind:      "amqp",
		Running:   b.running,
		Exchanges: sortedKeys(b.exchanges),
		Queues:    sortedKeys(b.queues),
		Consumers: int(b.consumers.Load()),
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

func (b *Broker) isRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func toPublishing(msg *messaging.Message) amqp.Publishing {
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.ID,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	}
}

func fromDelivery(d *amqp.Delivery) *messaging.Message {
	msg := &messaging.Message{
		ID:            d.MessageId,
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		ContentType:   d.ContentType,
		Timestamp:     d.Timestamp,
		Headers:       make(map[string]string, len(d.Headers)),
		Body:          d.Body,
	}
	for k, v := range d.Headers {
		switch val := v.(type) {
		case string:
			msg.Headers[k] = val
		case []byte:
			msg.Headers[k] = string(val)
		default:
			msg.Headers[k] = fmt.Sprint(val)
		}
	}
	return msg
}
