package memory

import (
	"context"
	"fmt"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// Consume 启动一个消费协程，非阻塞
//
// 同一队列多次调用形成竞争消费者；ctx 取消或代理关闭后协程退出。
func (b *Broker) Consume(ctx context.Context, queueName string, handler messaging.DeliveryHandler) error {
	if handler == nil {
		return fmt.Errorf("nil delivery handler")
	}

	b.mutex.Lock()
	if !b.running {
		b.mutex.Unlock()
		return messaging.ErrBrokerClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		b.mutex.Unlock()
		return fmt.Errorf("consume %s: %w", queueName, messaging.ErrUnknownQueue)
	}
	b.wg.Add(1)
	b.mutex.Unlock()

	b.consumers.Add(1)
	go b.consumer(ctx, q, handler)
	return nil
}

// Close 关闭代理
//
// 停止所有消费协程并等待正在执行的处理函数返回；队列中未消费的消息被丢弃。
func (b *Broker) Close() error {
	b.mutex.Lock()
	if !b.running {
		b.mutex.Unlock()
		return nil
	}
	b.running = false
	close(b.stop)
	for name, q := range b.queues {
		if q.exclusive {
			delete(b.queues, name)
		}
	}
	b.mutex.Unlock()

	b.wg.Wait()
	return nil
}

// consumer 消费协程
func (b *Broker) consumer(ctx context.Context, q *queue, handler messaging.DeliveryHandler) {
	defer b.wg.Done()
	defer b.consumers.Add(-1)

	for {
		select {
		case msg := <-q.ch:
			b.delivered.Add(1)
			handler(ctx, messaging.NewDelivery(msg, q.name, nil).WithRelease(requeue(q, msg)))

		case <-b.stop:
			return

		case <-ctx.Done():
			return
		}
	}
}

// requeue 放弃的投递放回队尾，队列已满时丢弃并报错
func requeue(q *queue, msg *messaging.Message) func() error {
	return func() error {
		select {
		case q.ch <- msg:
			return nil
		default:
			return fmt.Errorf("queue %s is full, released message %s dropped", q.name, msg.ID)
		}
	}
}
