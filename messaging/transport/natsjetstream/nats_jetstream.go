// Package natsjetstream 基于 NATS 的消息代理实现
//
// 每个交换机对应一个 JetStream 工作队列流，领域队列为持久队列消费者；
// 回复队列使用普通 NATS 主题，不落盘。
package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// 信封字段在 NATS 头部中的名称，其余头部原样透传
const (
	headerMessageID     = "Booking-Message-Id"
	headerExchange      = "Booking-Exchange"
	headerRoutingKey    = "Booking-Routing-Key"
	headerCorrelationID = "Booking-Correlation-Id"
	headerReplyTo       = "Booking-Reply-To"
	headerContentType   = "Content-Type"
	headerTimestamp     = "Booking-Timestamp"
)

// Config NATS 代理配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	AckWait       time.Duration
	MaxAckPending int
	Logger        logging.Logger
	Conn          *nats.Conn

	// 可选：流参数
	Retention string // workqueue|limits|interest（默认 workqueue）
	MaxBytes  int64  // 0 表示不设置
	Replicas  int    // 0 表示默认
}

// Broker messaging.Broker 的 NATS 实现
type Broker struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	mu        sync.RWMutex
	running   bool
	exchanges map[string]bool
	bindings  map[string][]messaging.Binding
	replies   map[string]bool
	subs      []*nats.Subscription

	consumers atomic.Int64
	published atomic.Int64
	delivered atomic.Int64
}

// Connect 连接 NATS 并获取 JetStream 上下文
func Connect(cfg Config) (*Broker, error) {
	if cfg.Stream == "" {
		cfg.Stream = "BOOKING"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "booking."
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("broker.nats")
	}

	b := &Broker{
		cfg:       cfg,
		logger:    cfg.Logger,
		exchanges: make(map[string]bool),
		bindings:  make(map[string][]messaging.Binding),
		replies:   make(map[string]bool),
	}
	if cfg.Conn != nil {
		b.conn = cfg.Conn
	} else {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("booking"))
		if err != nil {
			return nil, fmt.Errorf("nats: connect: %w", err)
		}
		b.conn = conn
		b.ownsConn = true
	}
	js, err := b.conn.JetStream()
	if err != nil {
		b.closeConn()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}
	b.js = js
	b.running = true
	return b, nil
}

// Declare 为每个交换机确保一个流，并记录队列绑定供 Consume 使用
func (b *Broker) Declare(ctx context.Context, topology messaging.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}
	for _, bd := range topology.Bindings {
		if _, err := subjectPattern(bd.Pattern); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return messaging.ErrBrokerClosed
	}
	for _, ex := range topology.Exchanges {
		if err := b.ensureStream(ex.Name); err != nil {
			return fmt.Errorf("nats: stream for %s: %w", ex.Name, err)
		}
		b.exchanges[ex.Name] = true
	}
	for _, bd := range topology.Bindings {
		if !b.exchanges[bd.Exchange] {
			if err := b.ensureStream(bd.Exchange); err != nil {
				return fmt.Errorf("bind %s: %w", bd.Exchange, messaging.ErrUnknownExchange)
			}
			b.exchanges[bd.Exchange] = true
		}
		if !containsBinding(b.bindings[bd.Queue], bd) {
			b.bindings[bd.Queue] = append(b.bindings[bd.Queue], bd)
		}
	}
	for _, q := range topology.Queues {
		if _, ok := b.bindings[q.Name]; !ok {
			b.bindings[q.Name] = nil
		}
	}
	return nil
}

// DeclareReplyQueue 分配私有回复主题
func (b *Broker) DeclareReplyQueue(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return "", messaging.ErrBrokerClosed
	}
	name := "reply-" + strings.TrimPrefix(nats.NewInbox(), nats.InboxPrefix)
	b.replies[name] = true
	return name, nil
}

// Publish 发布消息
//
// 默认交换机走普通 NATS 主题；其余交换机写入 JetStream，无对应流时返回 messaging.ErrUnknownExchange。
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return messaging.ErrBrokerClosed
	}

	if msg.Exchange == messaging.DefaultExchange {
		if err := b.conn.PublishMsg(encodeMessage(b.queueSubject(msg.RoutingKey), msg)); err != nil {
			return fmt.Errorf("nats: publish %s: %w", msg.RoutingKey, err)
		}
		b.published.Add(1)
		return nil
	}

	out := encodeMessage(b.exchangeSubject(msg.Exchange, msg.RoutingKey), msg)
	_, err := b.js.PublishMsg(out, nats.Context(ctx), nats.MsgId(msg.ID))
	if err != nil {
		if errors.Is(err, nats.ErrNoStreamResponse) || errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%s: %w", msg.Exchange, messaging.ErrUnknownExchange)
		}
		return fmt.Errorf("nats: publish %s/%s: %w", msg.Exchange, msg.RoutingKey, err)
	}
	b.published.Add(1)
	return nil
}

// Consume 订阅队列
//
// 回复队列为普通订阅，投递无需确认；领域队列为持久队列组订阅，未确认的投递在 AckWait 后重投。
func (b *Broker) Consume(ctx context.Context, queue string, handler messaging.DeliveryHandler) error {
	if handler == nil {
		return errors.New("nil delivery handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return messaging.ErrBrokerClosed
	}

	var subs []*nats.Subscription
	if b.replies[queue] {
		sub, err := b.conn.Subscribe(b.queueSubject(queue), b.coreHandler(ctx, queue, handler))
		if err != nil {
			return fmt.Errorf("nats: subscribe %s: %w", queue, err)
		}
		subs = append(subs, sub)
	} else {
		bindings, ok := b.bindings[queue]
		if !ok {
			return fmt.Errorf("consume %s: %w", queue, messaging.ErrUnknownQueue)
		}
		for _, bd := range bindings {
			pattern, _ := subjectPattern(bd.Pattern)
			subject := b.exchangeSubject(bd.Exchange, pattern)
			durable := durableName(queue, bd)
			sub, err := b.js.QueueSubscribe(subject, durable, b.streamHandler(ctx, queue, handler),
				nats.ManualAck(),
				nats.Durable(durable),
				nats.BindStream(b.streamName(bd.Exchange)),
				nats.AckWait(b.cfg.AckWait),
				nats.MaxAckPending(b.cfg.MaxAckPending))
			if err != nil {
				for _, s := range subs {
					_ = s.Unsubscribe()
				}
				return fmt.Errorf("nats: subscribe %s: %w", subject, err)
			}
			subs = append(subs, sub)
		}
	}

	b.subs = append(b.subs, subs...)
	b.consumers.Add(1)
	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Drain()
		}
		b.consumers.Add(-1)
	}()
	return nil
}

func (b *Broker) coreHandler(ctx context.Context, queue string, handler messaging.DeliveryHandler) nats.MsgHandler {
	return func(m *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		b.delivered.Add(1)
		handler(ctx, messaging.NewDelivery(decodeMessage(m), queue, nil))
	}
}

func (b *Broker) streamHandler(ctx context.Context, queue string, handler messaging.DeliveryHandler) nats.MsgHandler {
	return func(m *nats.Msg) {
		if ctx.Err() != nil {
			_ = m.Nak()
			return
		}
		b.delivered.Add(1)
		d := messaging.NewDelivery(decodeMessage(m), queue, func() error { return m.Ack() }).
			WithRelease(func() error { return m.Nak() })
		if meta, err := m.Metadata(); err == nil {
			d.Redelivered = meta.NumDelivered > 1
		}
		handler(ctx, d)
	}
}

// Close 排空订阅，拥有连接时关闭连接
func (b *Broker) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Drain()
	}
	b.closeConn()
	return nil
}

func (b *Broker) closeConn() {
	if b.ownsConn && b.conn != nil {
		b.conn.Close()
	}
}

// Stats 运行统计
func (b *Broker) Stats() messaging.BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	exchanges := make([]string, 0, len(b.exchanges))
	for name := range b.exchanges {
		exchanges = append(exchanges, name)
	}
	queues := make([]string, 0, len(b.bindings)+len(b.replies))
	for name := range b.bindings {
		queues = append(queues, name)
	}
	for name := range b.replies {
		queues = append(queues, name)
	}
	sort.Strings(exchanges)
	sort.Strings(queues)
	return messaging.BrokerStats{
		Kind:      "nats",
		Running:   b.running,
		Exchanges: exchanges,
		Queues:    queues,
		Consumers: int(b.consumers.Load()),
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}

// ensureStream 确保交换机对应的流存在，调用方持有锁
func (b *Broker) ensureStream(exchange string) error {
	name := b.streamName(exchange)
	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	retention := nats.WorkQueuePolicy
	switch strings.ToLower(b.cfg.Retention) {
	case "limits":
		retention = nats.LimitsPolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:              name,
		Subjects:          []string{b.exchangeSubject(exchange, ">")},
		Retention:         retention,
		MaxMsgsPerSubject: -1,
	}
	if b.cfg.MaxBytes > 0 {
		sc.MaxBytes = b.cfg.MaxBytes
	}
	if b.cfg.Replicas > 0 {
		sc.Replicas = b.cfg.Replicas
	}
	_, err = b.js.AddStream(sc)
	return err
}

func (b *Broker) streamName(exchange string) string {
	return b.cfg.Stream + "_" + strings.ToUpper(sanitize(exchange))
}

func (b *Broker) exchangeSubject(exchange, key string) string {
	return b.cfg.SubjectPrefix + "x." + exchange + "." + key
}

func (b *Broker) queueSubject(queue string) string {
	return b.cfg.SubjectPrefix + "q." + queue
}

// subjectPattern 将主题交换机的绑定模式转为 NATS 通配主题
// "#" 仅允许出现在末尾，对应 NATS 的 ">"
func subjectPattern(pattern string) (string, error) {
	words := strings.Split(pattern, ".")
	for i, w := range words {
		if w == "#" {
			if i != len(words)-1 {
				return "", fmt.Errorf("nats: pattern %q: '#' must be the last word", pattern)
			}
			words[i] = ">"
		}
	}
	return strings.Join(words, "."), nil
}

func durableName(queue string, bd messaging.Binding) string {
	return sanitize(queue + "_" + bd.Exchange)
}

// sanitize 替换 NATS 名称中不允许的字符
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

func containsBinding(bindings []messaging.Binding, target messaging.Binding) bool {
	for _, b := range bindings {
		if b == target {
			return true
		}
	}
	return false
}

func encodeMessage(subject string, msg *messaging.Message) *nats.Msg {
	out := nats.NewMsg(subject)
	for k, v := range msg.Headers {
		out.Header.Set(k, v)
	}
	out.Header.Set(headerMessageID, msg.ID)
	out.Header.Set(headerExchange, msg.Exchange)
	out.Header.Set(headerRoutingKey, msg.RoutingKey)
	if msg.CorrelationID != "" {
		out.Header.Set(headerCorrelationID, msg.CorrelationID)
	}
	if msg.ReplyTo != "" {
		out.Header.Set(headerReplyTo, msg.ReplyTo)
	}
	if msg.ContentType != "" {
		out.Header.Set(headerContentType, msg.ContentType)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out.Header.Set(headerTimestamp, strconv.FormatInt(ts.UnixNano(), 10))
	out.Data = msg.Body
	return out
}

func decodeMessage(m *nats.Msg) *messaging.Message {
	msg := &messaging.Message{
		ID:            m.Header.Get(headerMessageID),
		Exchange:      m.Header.Get(headerExchange),
		RoutingKey:    m.Header.Get(headerRoutingKey),
		CorrelationID: m.Header.Get(headerCorrelationID),
		ReplyTo:       m.Header.Get(headerReplyTo),
		ContentType:   m.Header.Get(headerContentType),
		Headers:       make(map[string]string),
		Body:          m.Data,
	}
	if ns, err := strconv.ParseInt(m.Header.Get(headerTimestamp), 10, 64); err == nil {
		msg.Timestamp = time.Unix(0, ns).UTC()
	} else {
		msg.Timestamp = time.Now().UTC()
	}
	for k := range m.Header {
		switch k {
		case headerMessageID, headerExchange, headerRoutingKey, headerCorrelationID,
			headerReplyTo, headerContentType, headerTimestamp:
			continue
		}
		msg.Headers[k] = m.Header.Get(k)
	}
	if msg.ID == "" {
		msg.ID = messaging.NewMessageID()
	}
	return msg
}
