// Package redisstreams 基于 Redis Streams 消费组的消息代理实现
//
// 每个队列对应一个流与同名消费组；交换机与绑定保存在 Redis 中，
// 使未声明领域拓扑的发布者也能完成路由。
package redisstreams

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

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MathisDulieu/Booking-sub000/cache"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// client 代理依赖的 go-redis 命令子集
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Config Redis Streams 代理配置
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64
	Logger       logging.Logger

	// MaxLen 每个队列流的近似长度上限，0 表示不裁剪
	MaxLen int64

	// ClaimIdle 认领其他消费者超过该时长未确认的投递，0 表示不认领
	ClaimIdle time.Duration

	// RouteTTL 交换机绑定在本地缓存的时长，默认 2s
	RouteTTL time.Duration

	MinReadBackoff time.Duration // 读取错误最小退避，默认 100ms
	MaxReadBackoff time.Duration // 读取错误最大退避，默认 5s
}

// Broker messaging.Broker 的 Redis Streams 实现
type Broker struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
	routes    *cache.Cache[string, []messaging.Binding]

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	queues  map[string]bool
	replies map[string]bool

	consumers atomic.Int64
	published atomic.Int64
	delivered atomic.Int64
}

// NewBroker 创建 Redis Streams 代理
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "booking:"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.RouteTTL <= 0 {
		cfg.RouteTTL = 2 * time.Second
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("broker.redis")
	}

	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis client not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newBroker(cfg, cl, own), nil
}

func newBroker(cfg Config, cl client, own bool) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		routes: cache.New[string, []messaging.Binding](cache.Config{
			Name: "redis-routes",
			TTL:  cfg.RouteTTL,
			Mode: cache.ExpireAfterWrite,
		}),
		running: true,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]bool),
		replies: make(map[string]bool),
	}
}

// Declare 幂等声明拓扑，交换机类型冲突时返回错误
func (b *Broker) Declare(ctx context.Context, topology messaging.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}
	if !b.isRunning() {
		return messaging.ErrBrokerClosed
	}

	for _, ex := range topology.Exchanges {
		if err := b.client.HSetNX(ctx, b.exchangesKey(), ex.Name, string(ex.Kind)).Err(); err != nil {
			return fmt.Errorf("redis: declare exchange %s: %w", ex.Name, err)
		}
		kind, err := b.client.HGet(ctx, b.exchangesKey(), ex.Name).Result()
		if err != nil {
			return fmt.Errorf("redis: declare exchange %s: %w", ex.Name, err)
		}
		if kind != string(ex.Kind) {
			return fmt.Errorf("exchange %s already declared as %s", ex.Name, kind)
		}
	}
	for _, q := range topology.Queues {
		if err := b.ensureGroup(ctx, q.Name); err != nil {
			return fmt.Errorf("redis: declare queue %s: %w", q.Name, err)
		}
		b.mu.Lock()
		b.queues[q.Name] = true
		b.mu.Unlock()
	}
	for _, bd := range topology.Bindings {
		if _, err := b.exchangeKind(ctx, bd.Exchange); err != nil {
			return fmt.Errorf("bind %s: %w", bd.Exchange, err)
		}
		if err := b.client.SAdd(ctx, b.bindingsKey(bd.Exchange), encodeBinding(bd)).Err(); err != nil {
			return fmt.Errorf("redis: bind %s to %s: %w", bd.Queue, bd.Exchange, err)
		}
		b.routes.Delete(bd.Exchange)
	}
	return nil
}

// DeclareReplyQueue 创建私有回复流，Close 时删除
func (b *Broker) DeclareReplyQueue(ctx context.Context) (string, error) {
	if !b.isRunning() {
		return "", messaging.ErrBrokerClosed
	}
	name := "reply." + uuid.NewString()
	if err := b.ensureGroup(ctx, name); err != nil {
		return "", fmt.Errorf("redis: declare reply queue: %w", err)
	}
	b.mu.Lock()
	b.replies[name] = true
	b.mu.Unlock()
	return name, nil
}

// Publish 按交换机绑定写入目标队列流
//
// 交换机不存在时返回 messaging.ErrUnknownExchange；无匹配绑定时丢弃消息。
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if !b.isRunning() {
		return messaging.ErrBrokerClosed
	}

	var targets []string
	if msg.Exchange == messaging.DefaultExchange {
		targets = []string{msg.RoutingKey}
	} else {
		var err error
		targets, err = b.route(ctx, msg.Exchange, msg.RoutingKey)
		if err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		b.logger.Debug(ctx, "message unroutable, dropped",
			logging.String("exchange", msg.Exchange),
			logging.String("routing_key", msg.RoutingKey))
		return nil
	}

	values := encodeMessage(msg)
	for _, q := range targets {
		args := &redis.XAddArgs{Stream: b.streamKey(q), Values: values}
		if b.cfg.MaxLen > 0 {
			args.MaxLen = b.cfg.MaxLen
			args.Approx = true
		}
		if err := b.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("redis: publish to %s: %w", q, err)
		}
	}
	b.published.Add(1)
	return nil
}

// route 计算目标队列，同一队列只投递一次
func (b *Broker) route(ctx context.Context, exchange, key string) ([]string, error) {
	bindings, ok := b.routes.Get(exchange)
	if !ok {
		if _, err := b.exchangeKind(ctx, exchange); err != nil {
			return nil, err
		}
		members, err := b.client.SMembers(ctx, b.bindingsKey(exchange)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: load bindings for %s: %w", exchange, err)
		}
		bindings = make([]messaging.Binding, 0, len(members))
		for _, m := range members {
			if bd, ok := decodeBinding(exchange, m); ok {
				bindings = append(bindings, bd)
			}
		}
		b.routes.Set(exchange, bindings)
	}
	return matchBindings(bindings, key), nil
}

func matchBindings(bindings []messaging.Binding, key string) []string {
	var targets []string
	seen := make(map[string]bool, len(bindings))
	for _, bd := range bindings {
		if seen[bd.Queue] || !messaging.MatchRoutingKey(bd.Pattern, key) {
			continue
		}
		seen[bd.Queue] = true
		targets = append(targets, bd.Queue)
	}
	sort.Strings(targets)
	return targets
}

func (b *Broker) exchangeKind(ctx context.Context, exchange string) (string, error) {
	kind, err := b.client.HGet(ctx, b.exchangesKey(), exchange).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", exchange, messaging.ErrUnknownExchange)
	}
	if err != nil {
		return "", fmt.Errorf("redis: lookup exchange %s: %w", exchange, err)
	}
	return kind, nil
}

// Consume 启动读取协程；投递的 Ack 执行 XACK
func (b *Broker) Consume(ctx context.Context, queue string, handler messaging.DeliveryHandler) error {
	if handler == nil {
		return errors.New("nil delivery handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return messaging.ErrBrokerClosed
	}
	if !b.queues[queue] && !b.replies[queue] {
		return fmt.Errorf("consume %s: %w", queue, messaging.ErrUnknownQueue)
	}
	b.wg.Add(1)
	b.consumers.Add(1)
	go b.readLoop(ctx, queue, handler)
	return nil
}

func (b *Broker) readLoop(ctx context.Context, queue string, handler messaging.DeliveryHandler) {
	defer b.wg.Done()
	defer b.consumers.Add(-1)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.ctx.Done():
			cancel()
		case <-loopCtx.Done():
		}
	}()

	stream := b.streamKey(queue)
	args := &redis.XReadGroupArgs{
		Group:    queue,
		Consumer: b.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    b.cfg.ReadCount,
		Block:    b.cfg.BlockTimeout,
	}
	backoff := b.cfg.MinReadBackoff
	lastClaim := time.Now()
	for {
		if loopCtx.Err() != nil {
			return
		}
		if b.cfg.ClaimIdle > 0 && time.Since(lastClaim) >= b.cfg.ClaimIdle {
			b.claimStale(loopCtx, queue, stream, handler)
			lastClaim = time.Now()
		}

		res, err := b.client.XReadGroup(loopCtx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if loopCtx.Err() != nil {
				return
			}
			b.logger.Warn(loopCtx, "xreadgroup failed",
				logging.String("queue", queue),
				logging.Duration("backoff", backoff),
				logging.Error(err))
			select {
			case <-time.After(backoff):
			case <-loopCtx.Done():
				return
			}
			backoff *= 2
			if backoff > b.cfg.MaxReadBackoff {
				backoff = b.cfg.MaxReadBackoff
			}
			continue
		}
		backoff = b.cfg.MinReadBackoff
		for _, sr := range res {
			for _, entry := range sr.Messages {
				b.deliver(loopCtx, queue, stream, entry, false, handler)
			}
		}
	}
}

// claimStale 认领其他消费者长时间未确认的投递
func (b *Broker) claimStale(ctx context.Context, queue, stream string, handler messaging.DeliveryHandler) {
	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    queue,
		Consumer: b.cfg.ConsumerName,
		MinIdle:  b.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    b.cfg.ReadCount,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn(ctx, "xautoclaim failed", logging.String("queue", queue), logging.Error(err))
		}
		return
	}
	for _, entry := range msgs {
		b.deliver(ctx, queue, stream, entry, true, handler)
	}
}

func (b *Broker) deliver(ctx context.Context, queue, stream string, entry redis.XMessage, redelivered bool, handler messaging.DeliveryHandler) {
	ack := func() error {
		return b.client.XAck(context.Background(), stream, queue, entry.ID).Err()
	}
	msg, err := decodeMessage(entry)
	if err != nil {
		b.logger.Warn(ctx, "decode redis stream entry failed",
			logging.String("queue", queue),
			logging.String("entry_id", entry.ID),
			logging.Error(err))
		_ = ack()
		return
	}
	b.delivered.Add(1)
	// 未确认的条目留在待处理列表，由 claimStale 重新认领，Release 无需额外动作
	d := messaging.NewDelivery(msg, queue, ack)
	d.Redelivered = redelivered
	handler(ctx, d)
}

// ensureGroup 创建流与消费组，已存在时忽略
func (b *Broker) ensureGroup(ctx context.Context, queue string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.streamKey(queue), queue, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

// Close 停止读取协程，删除回复流，拥有客户端时关闭
func (b *Broker) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	replies := make([]string, 0, len(b.replies))
	for name := range b.replies {
		replies = append(replies, b.streamKey(name))
	}
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if len(replies) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.client.Del(ctx, replies...).Err(); err != nil {
			b.logger.Warn(ctx, "delete reply streams failed", logging.Error(err))
		}
		cancel()
	}
	if b.ownClient {
		return b.client.Close()
	}
	return nil
}

// Stats 运行统计，队列仅包含本进程声明过的
func (b *Broker) Stats() messaging.BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	queues := make([]string, 0, len(b.queues)+len(b.replies))
	for name := range b.queues {
		queues = append(queues, name)
	}
	for name := range b.replies {
		queues = append(queues, name)
	}
	sort.Strings(queues)
	return messaging.BrokerStats{
		Kind:      "redis",
		Running:   b.running,
		Queues:    queues,
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

func (b *Broker) exchangesKey() string { return b.cfg.KeyPrefix + "exchanges" }

func (b *Broker) bindingsKey(exchange string) string {
	return b.cfg.KeyPrefix + "bindings:" + exchange
}

func (b *Broker) streamKey(queue string) string { return b.cfg.KeyPrefix + "queue:" + queue }

// 绑定以 "pattern queue" 的形式存入集合
func encodeBinding(bd messaging.Binding) string {
	return bd.Pattern + " " + bd.Queue
}

func decodeBinding(exchange, member string) (messaging.Binding, bool) {
	pattern, queue, ok := strings.Cut(member, " ")
	if !ok || pattern == "" || queue == "" {
		return messaging.Binding{}, false
	}
	return messaging.Binding{Exchange: exchange, Queue: queue, Pattern: pattern}, true
}

// 头部以 "h:" 前缀存为独立字段
const headerFieldPrefix = "h:"

func encodeMessage(msg *messaging.Message) map[string]interface{} {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	values := map[string]interface{}{
		"id":             msg.ID,
		"exchange":       msg.Exchange,
		"routing_key":    msg.RoutingKey,
		"correlation_id": msg.CorrelationID,
		"reply_to":       msg.ReplyTo,
		"content_type":   msg.ContentType,
		"timestamp":      ts.UnixNano(),
		"body":           msg.Body,
	}
	for k, v := range msg.Headers {
		values[headerFieldPrefix+k] = v
	}
	return values
}

func decodeMessage(entry redis.XMessage) (*messaging.Message, error) {
	msg := &messaging.Message{
		ID:            field(entry.Values, "id"),
		Exchange:      field(entry.Values, "exchange"),
		RoutingKey:    field(entry.Values, "routing_key"),
		CorrelationID: field(entry.Values, "correlation_id"),
		ReplyTo:       field(entry.Values, "reply_to"),
		ContentType:   field(entry.Values, "content_type"),
		Headers:       make(map[string]string),
	}
	if msg.RoutingKey == "" {
		return nil, fmt.Errorf("entry %s has no routing key", entry.ID)
	}
	if body, ok := entry.Values["body"]; ok {
		switch v := body.(type) {
		case string:
			msg.Body = []byte(v)
		case []byte:
			msg.Body = v
		default:
			return nil, fmt.Errorf("entry %s: unexpected body type %T", entry.ID, body)
		}
	}

	msg.Timestamp = time.Now().UTC()
	switch v := entry.Values["timestamp"].(type) {
	case int64:
		msg.Timestamp = time.Unix(0, v).UTC()
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			msg.Timestamp = time.Unix(0, ns).UTC()
		}
	}

	for k, v := range entry.Values {
		if name, ok := strings.CutPrefix(k, headerFieldPrefix); ok {
			if s, ok := v.(string); ok {
				msg.Headers[name] = s
			}
		}
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	return msg, nil
}

func field(values map[string]interface{}, key string) string {
	s, _ := values[key].(string)
	return s
}
