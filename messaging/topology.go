package messaging

import (
	"fmt"
)

// ExchangeKind 交换机类型
type ExchangeKind string

const (
	ExchangeTopic  ExchangeKind = "topic"
	ExchangeDirect ExchangeKind = "direct"
)

// Exchange 交换机声明
type Exchange struct {
	Name    string
	Kind    ExchangeKind
	Durable bool
}

// Queue 队列声明
type Queue struct {
	Name    string
	Durable bool
}

// Binding 绑定：交换机上匹配 Pattern 的消息进入 Queue
type Binding struct {
	Exchange string
	Queue    string
	Pattern  string
}

// Topology 一组待声明的拓扑
type Topology struct {
	Exchanges []Exchange
	Queues    []Queue
	Bindings  []Binding
}

// DomainTopology 领域拓扑：主题交换机 <domain>，持久队列 queue，绑定 <domain>.*
func DomainTopology(domain, queue string) Topology {
	return Topology{
		Exchanges: []Exchange{{Name: domain, Kind: ExchangeTopic, Durable: true}},
		Queues:    []Queue{{Name: queue, Durable: true}},
		Bindings:  []Binding{{Exchange: domain, Queue: queue, Pattern: domain + ".*"}},
	}
}

// Merge 合并拓扑
func (t Topology) Merge(other Topology) Topology {
	return Topology{
		Exchanges: append(append([]Exchange{}, t.Exchanges...), other.Exchanges...),
		Queues:    append(append([]Queue{}, t.Queues...), other.Queues...),
		Bindings:  append(append([]Binding{}, t.Bindings...), other.Bindings...),
	}
}

// Validate 校验拓扑：名称非空，绑定引用已声明或外部存在的名称由代理判断
func (t Topology) Validate() error {
	for _, ex := range t.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange name is empty")
		}
		switch ex.Kind {
		case ExchangeTopic, ExchangeDirect:
		default:
			return fmt.Errorf("exchange %s: unsupported kind %q", ex.Name, ex.Kind)
		}
	}
	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name is empty")
		}
	}
	for _, b := range t.Bindings {
		if b.Exchange == "" || b.Queue == "" {
			return fmt.Errorf("binding %q: exchange and queue are required", b.Pattern)
		}
		if err := ValidatePattern(b.Pattern); err != nil {
			return err
		}
	}
	return nil
}
