package rpc

import (
	"encoding/json"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// ReplyKind 回复形态，在操作定义时确定
type ReplyKind int

const (
	// KindFlat 值为纯文本消息
	KindFlat ReplyKind = iota

	// KindNested 载荷标签的值为 JSON 编码字符串，需二次解码为响应类型
	KindNested
)

func (k ReplyKind) String() string {
	if k == KindNested {
		return "nested"
	}
	return "flat"
}

// Operation 一个路由键上的调用描述：请求类型、响应类型与回复形态
type Operation[Req, Resp any] struct {
	key        messaging.RoutingKey
	kind       ReplyKind
	payloadTag string
}

// Flat 定义平铺回复的操作，成功值为文本
func Flat[Req any](key string) Operation[Req, string] {
	return Operation[Req, string]{key: mustKey(key), kind: KindFlat}
}

// Nested 定义嵌套回复的操作：payloadTag 标签的值解码为 Resp，其余成功标签按文本处理
func Nested[Req, Resp any](key, payloadTag string) Operation[Req, Resp] {
	if payloadTag == "" || IsErrorTag(payloadTag) || payloadTag == TagError {
		panic("rpc: invalid payload tag " + payloadTag + " for " + key)
	}
	return Operation[Req, Resp]{key: mustKey(key), kind: KindNested, payloadTag: payloadTag}
}

func mustKey(key string) messaging.RoutingKey {
	k, err := messaging.ParseRoutingKey(key)
	if err != nil {
		panic("rpc: " + err.Error())
	}
	return k
}

// Key 路由键
func (op Operation[Req, Resp]) Key() messaging.RoutingKey { return op.key }

// Exchange 目标交换机，即路由键的领域部分
func (op Operation[Req, Resp]) Exchange() string { return op.key.Domain() }

// Kind 回复形态
func (op Operation[Req, Resp]) Kind() ReplyKind { return op.kind }

// PayloadTag 嵌套载荷标签，平铺操作为空
func (op Operation[Req, Resp]) PayloadTag() string { return op.payloadTag }

// Reply 类型化回复
type Reply[T any] struct {
	Tag string

	// Text 文本值（平铺成功、错误标签、嵌套操作的非载荷标签）
	Text string

	// Value 嵌套载荷解码结果；平铺操作成功时等于 Text
	Value T

	// HasValue Value 是否由回复填充
	HasValue bool
}

// Result 还原为标签结果，嵌套载荷重新编码为 JSON 字符串
func (r Reply[T]) Result() Result {
	if r.HasValue {
		if s, ok := any(r.Value).(string); ok {
			return Result{Tag: r.Tag, Value: s}
		}
		if data, err := json.Marshal(r.Value); err == nil {
			return Result{Tag: r.Tag, Value: string(data)}
		}
	}
	return Result{Tag: r.Tag, Value: r.Text}
}

// Decode 按操作的回复形态解码标签结果
func (op Operation[Req, Resp]) Decode(res Result) (Reply[Resp], error) {
	reply := Reply[Resp]{Tag: res.Tag}

	if res.IsError() || op.kind == KindFlat || res.Tag != op.payloadTag {
		text, ok := res.Value.(string)
		if !ok && res.Value != nil {
			if res.IsError() {
				reply.Text = res.Text()
				return reply, nil
			}
			return reply, deserializationError("expected a text value for tag "+res.Tag, nil)
		}
		reply.Text = text
		if op.kind == KindFlat && !res.IsError() {
			if v, ok := any(text).(Resp); ok {
				reply.Value = v
				reply.HasValue = true
			}
		}
		return reply, nil
	}

	raw, ok := res.Value.(string)
	if !ok {
		return reply, deserializationError("expected a JSON string for tag "+res.Tag, nil)
	}
	if err := json.Unmarshal([]byte(raw), &reply.Value); err != nil {
		return reply, deserializationError("failed to decode "+res.Tag+" payload", err)
	}
	reply.HasValue = true
	return reply, nil
}
