package messaging

import (
	"context"
	"errors"
)

var (
	// ErrBrokerClosed 代理已关闭
	ErrBrokerClosed = errors.New("broker closed")

	// ErrUnknownExchange 发布到未声明的交换机
	ErrUnknownExchange = errors.New("unknown exchange")

	// ErrUnknownQueue 消费未声明的队列
	ErrUnknownQueue = errors.New("unknown queue")
)

// DeliveryHandler 投递处理函数，返回后由调用方决定是否确认
type DeliveryHandler func(ctx context.Context, d *Delivery)

// Broker 消息代理接口
//
// 实现需保证并发安全：Publish 可被多个 goroutine 同时调用。
type Broker interface {
	// Declare 幂等声明交换机、队列与绑定
	Declare(ctx context.Context, topology Topology) error

	// DeclareReplyQueue 声明调用方私有的回复队列，返回其地址
	// 队列随代理关闭而删除
	DeclareReplyQueue(ctx context.Context) (string, error)

	// Publish 发布消息；Exchange 为 DefaultExchange 时按 RoutingKey 直投队列
	Publish(ctx context.Context, msg *Message) error

	// Consume 开始消费队列，非阻塞；ctx 取消后停止投递
	// handler 负责调用 Delivery.Ack
	Consume(ctx context.Context, queue string, handler DeliveryHandler) error

	// Close 关闭代理，释放连接
	Close() error

	// Stats 运行统计
	Stats() BrokerStats
}

// BrokerStats 代理统计信息
type BrokerStats struct {
	Kind      string   `json:"kind"`
	Running   bool     `json:"running"`
	Exchanges []string `json:"exchanges,omitempty"`
	Queues    []string `json:"queues,omitempty"`
	Consumers int      `json:"consumers"`
	Published int64    `json:"published"`
	Delivered int64    `json:"delivered"`
}
