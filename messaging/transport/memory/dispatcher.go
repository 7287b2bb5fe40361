package memory

import (
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// routeLocked 计算消息的目标队列，调用方持有读锁
//
// 路由规则:
//  1. 默认交换机：RoutingKey 即队列名
//  2. 主题交换机：所有模式匹配的绑定
//  3. 直连交换机：模式与 RoutingKey 完全相等的绑定
//
// 同一队列被多个绑定命中时只投递一次。
func (b *Broker) routeLocked(msg *messaging.Message) ([]*queue, error) {
	if msg.Exchange == messaging.DefaultExchange {
		if q, ok := b.queues[msg.RoutingKey]; ok {
			return []*queue{q}, nil
		}
		return nil, nil
	}

	ex, ok := b.exchanges[msg.Exchange]
	if !ok {
		return nil, messaging.ErrUnknownExchange
	}

	var targets []*queue
	seen := make(map[string]bool, len(ex.bindings))
	for _, binding := range ex.bindings {
		if seen[binding.Queue] {
			continue
		}
		matched := false
		switch ex.kind {
		case messaging.ExchangeDirect:
			matched = binding.Pattern == msg.RoutingKey
		default:
			matched = messaging.MatchRoutingKey(binding.Pattern, msg.RoutingKey)
		}
		if !matched {
			continue
		}
		if q, ok := b.queues[binding.Queue]; ok {
			seen[binding.Queue] = true
			targets = append(targets, q)
		}
	}
	return targets, nil
}
