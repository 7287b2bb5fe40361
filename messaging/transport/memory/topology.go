package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// Declare 幂等声明拓扑
func (b *Broker) Declare(ctx context.Context, topology messaging.Topology) error {
	if err := topology.Validate(); err != nil {
		return err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.running {
		return messaging.ErrBrokerClosed
	}

	for _, ex := range topology.Exchanges {
		if existing, ok := b.exchanges[ex.Name]; ok {
			if existing.kind != ex.Kind {
				return fmt.Errorf("exchange %s already declared as %s", ex.Name, existing.kind)
			}
			continue
		}
		b.exchanges[ex.Name] = &exchange{kind: ex.Kind}
	}
	for _, q := range topology.Queues {
		b.declareQueueLocked(q.Name, false)
	}
	for _, binding := range topology.Bindings {
		ex, ok := b.exchanges[binding.Exchange]
		if !ok {
			return fmt.Errorf("bind %s: %w", binding.Exchange, messaging.ErrUnknownExchange)
		}
		if _, ok := b.queues[binding.Queue]; !ok {
			return fmt.Errorf("bind %s: %w", binding.Queue, messaging.ErrUnknownQueue)
		}
		if !containsBinding(ex.bindings, binding) {
			ex.bindings = append(ex.bindings, binding)
		}
	}
	return nil
}

// DeclareReplyQueue 声明私有回复队列
func (b *Broker) DeclareReplyQueue(ctx context.Context) (string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.running {
		return "", messaging.ErrBrokerClosed
	}
	name := "reply." + uuid.NewString()
	b.declareQueueLocked(name, true)
	return name, nil
}

func (b *Broker) declareQueueLocked(name string, exclusive bool) {
	if _, ok := b.queues[name]; ok {
		return
	}
	b.queues[name] = &queue{
		name:      name,
		exclusive: exclusive,
		ch:        make(chan *messaging.Message, b.queueSize),
	}
}

func containsBinding(bindings []messaging.Binding, target messaging.Binding) bool {
	for _, b := range bindings {
		if b == target {
			return true
		}
	}
	return false
}
