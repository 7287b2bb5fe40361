package rpc

import (
	"errors"
	"sync"
	"time"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

var errDuplicateToken = errors.New("duplicate correlation token")

// callOutcome 一次调用的最终结果
type callOutcome struct {
	result Result
	err    error
}

// pendingCall 等待中的调用
type pendingCall struct {
	done     chan callOutcome // 容量 1，resolve 不阻塞
	deadline time.Time
	key      string
}

// pendingTable 关联令牌到等待中调用的映射
//
// 每个条目只会被 resolve 或 remove 中的一方取走。drain 之后不再接受登记。
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// register 登记调用；表已关闭返回 messaging.ErrBrokerClosed
func (t *pendingTable) register(token, key string, deadline time.Time) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, messaging.ErrBrokerClosed
	}
	if _, exists := t.calls[token]; exists {
		return nil, errDuplicateToken
	}
	call := &pendingCall{done: make(chan callOutcome, 1), deadline: deadline, key: key}
	t.calls[token] = call
	return call, nil
}

// resolve 取走条目并投递结果；条目不存在返回 false
func (t *pendingTable) resolve(token string, out callOutcome) bool {
	t.mu.Lock()
	call, ok := t.calls[token]
	if ok {
		delete(t.calls, token)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.done <- out
	return true
}

// remove 超时或取消时取走条目；已被 resolve 时返回 false
func (t *pendingTable) remove(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[token]; !ok {
		return false
	}
	delete(t.calls, token)
	return true
}

func (t *pendingTable) contains(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[token]
	return ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// drain 关闭登记，取走全部条目并投递同一结果
func (t *pendingTable) drain(out callOutcome) int {
	t.mu.Lock()
	t.closed = true
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.done <- out
	}
	return len(calls)
}
