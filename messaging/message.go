// Package messaging 提供消息代理的核心抽象：消息信封、投递、拓扑与路由键
package messaging

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// 内容类型常量
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// DefaultExchange 默认交换机，RoutingKey 即目标队列名（用于回复）
const DefaultExchange = ""

// Message 代理消息信封
//
// 请求消息携带 CorrelationID 与 ReplyTo；回复消息发布到 DefaultExchange，
// RoutingKey 为请求的 ReplyTo，并原样回显 CorrelationID。
type Message struct {
	ID            string            `json:"id"`
	Exchange      string            `json:"exchange"`
	RoutingKey    string            `json:"routing_key"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body"`
}

// NewMessage 创建新消息，自动生成ID与时间戳
func NewMessage(exchange, routingKey string, body []byte) *Message {
	return &Message{
		ID:          NewMessageID(),
		Exchange:    exchange,
		RoutingKey:  routingKey,
		ContentType: ContentTypeJSON,
		Timestamp:   time.Now().UTC(),
		Headers:     make(map[string]string),
		Body:        body,
	}
}

// Header 读取头部字段
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SetHeader 设置头部字段
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Clone 浅拷贝消息，Headers 独立
func (m *Message) Clone() *Message {
	c := *m
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// Delivery 一次入站投递
//
// Ack 与 Release 合计只生效一次，先到者决定投递的结局。
type Delivery struct {
	*Message

	// Queue 投递来源队列
	Queue string

	// Redelivered 代理是否重投
	Redelivered bool

	mu      sync.Mutex
	settled bool
	ack     func() error
	release func() error
}

// NewDelivery 由传输层构造投递，ack 可为 nil
func NewDelivery(msg *Message, queue string, ack func() error) *Delivery {
	return &Delivery{Message: msg, Queue: queue, ack: ack}
}

// WithRelease 设置放弃投递时的动作（如 NACK 重新入队），返回自身
func (d *Delivery) WithRelease(release func() error) *Delivery {
	d.release = release
	return d
}

// Ack 确认投递，重复调用无副作用
func (d *Delivery) Ack() error {
	return d.settle(d.ack)
}

// Release 放弃未处理的投递，交还代理重投；已确认的投递不受影响
func (d *Delivery) Release() error {
	return d.settle(d.release)
}

func (d *Delivery) settle(fn func() error) error {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return nil
	}
	d.settled = true
	d.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID 生成单调递增的 ULID 消息ID
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
