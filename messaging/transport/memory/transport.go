// Package memory 提供基于内存队列的消息代理实现
// 适用于单机部署、开发环境和测试场景
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// Broker 内存消息代理实现
//
// 特性:
//   - 进程内交换机、绑定与带缓冲队列
//   - 主题交换机按 messaging.MatchRoutingKey 路由
//   - 同一队列的多个消费者竞争消费
//   - 并发安全
type Broker struct {
	exchanges map[string]*exchange
	queues    map[string]*queue
	queueSize int
	logger    logging.Logger

	running bool
	mutex   sync.RWMutex
	wg      sync.WaitGroup
	stop    chan struct{}

	consumers atomic.Int64
	published atomic.Int64
	delivered atomic.Int64
}

type exchange struct {
	kind     messaging.ExchangeKind
	bindings []messaging.Binding
}

type queue struct {
	name      string
	exclusive bool
	ch        chan *messaging.Message
}

// NewBroker 创建内存代理
//
// 参数:
//   - queueSize: 每个队列的缓冲大小（<=0 时使用默认 1000）
func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		queueSize: queueSize,
		logger:    logging.ComponentLogger("broker.memory"),
		running:   true,
		stop:      make(chan struct{}),
	}
}

// WithLogger 设置日志器
func (b *Broker) WithLogger(logger logging.Logger) *Broker {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Publish 发布消息
//
// 交换机未声明时返回 messaging.ErrUnknownExchange；无匹配绑定或目标队列不存在时丢弃消息。
// 队列已满时返回错误，不阻塞发布者。
func (b *Broker) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	b.mutex.RLock()
	if !b.running {
		b.mutex.RUnlock()
		return messaging.ErrBrokerClosed
	}
	targets, err := b.routeLocked(msg)
	b.mutex.RUnlock()
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		b.logger.Debug(ctx, "message unroutable, dropped",
			logging.String("exchange", msg.Exchange),
			logging.String("routing_key", msg.RoutingKey))
		return nil
	}

	for _, q := range targets {
		select {
		case q.ch <- msg.Clone():
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("queue %s is full", q.name)
		}
	}
	b.published.Add(1)
	return nil
}

// Stats 获取统计信息
func (b *Broker) Stats() messaging.BrokerStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	exchanges := make([]string, 0, len(b.exchanges))
	for name := range b.exchanges {
		exchanges = append(exchanges, name)
	}
	queues := make([]string, 0, len(b.queues))
	for name := range b.queues {
		queues = append(queues, name)
	}
	sort.Strings(exchanges)
	sort.Strings(queues)

	return messaging.BrokerStats{
		Kind:      "memory",
		Running:   b.running,
		Exchanges: exchanges,
		Queues:    queues,
		Consumers: int(b.consumers.Load()),
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
