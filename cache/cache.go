// Package cache 提供带容量上限与过期策略的泛型缓存
//
// 网关会话、RPC 客户端的已决令牌、Redis 路由表共用此实现。
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// ExpireMode 过期时间的计算基准
type ExpireMode int

const (
	// ExpireAfterAccess 基于最近访问时间（滑动过期）
	ExpireAfterAccess ExpireMode = iota

	// ExpireAfterWrite 基于写入时间（固定过期），访问不续期
	ExpireAfterWrite
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称，仅用于日志
	Name string

	// MaxSize 最大条目数，超出时按 LRU 驱逐；0 表示无限制
	MaxSize int

	// TTL 过期时间，0 表示永不过期
	TTL time.Duration

	// Mode 过期基准，默认 ExpireAfterAccess
	Mode ExpireMode
}

// Stats 缓存统计
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // LRU 驱逐
	Expires   int64 // TTL 过期
	Size      int
}

// Cache 并发安全的泛型 LRU + TTL 缓存
//
//	sessions := cache.New[string, contract.Session](cache.Config{
//	    Name:    "sessions",
//	    MaxSize: 10000,
//	    TTL:     30 * time.Second,
//	    Mode:    cache.ExpireAfterWrite,
//	})
type Cache[K comparable, V any] struct {
	cfg Config

	mu    sync.Mutex
	items map[K]*list.Element // 元素值为 *entry[K, V]
	order *list.List          // 最近使用的在前
	stats Stats
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	written  time.Time
	accessed time.Time
}

// New 创建缓存
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	return &Cache[K, V]{
		cfg:   cfg,
		items: make(map[K]*list.Element),
		order: list.New(),
	}
}

// Name 缓存名称
func (c *Cache[K, V]) Name() string { return c.cfg.Name }

// Get 获取未过期的值，命中时刷新 LRU 位置与访问时间
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	e.accessed = time.Now()
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Take 获取并删除，同一键只有一个调用方能取到
func (c *Cache[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.remove(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set 写入值，已存在时覆盖并重置写入时间
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.written, e.accessed = value, now, now
		c.order.MoveToFront(el)
		return
	}

	if c.cfg.MaxSize > 0 && len(c.items) >= c.cfg.MaxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, written: now, accessed: now})
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if ok {
		c.remove(el)
	}
	return ok
}

// DeleteFunc 删除 fn 返回 true 的条目，返回删除数量
func (c *Cache[K, V]) DeleteFunc(fn func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key, el := range c.items {
		if fn(key, el.Value.(*entry[K, V]).value) {
			c.remove(el)
			deleted++
		}
	}
	return deleted
}

// Clear 清空
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

// CleanExpired 清理过期条目，返回清理数量
func (c *Cache[K, V]) CleanExpired() int {
	if c.cfg.TTL <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	for _, el := range c.items {
		if c.expired(el.Value.(*entry[K, V])) {
			c.remove(el)
			cleaned++
		}
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// RunJanitor 按 interval 周期清理过期条目，阻塞直到 ctx 取消
func (c *Cache[K, V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.cfg.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanExpired()
		case <-ctx.Done():
			return
		}
	}
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// Size 当前条目数，含尚未清理的过期条目
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// lookup 查找未过期条目，过期条目顺带删除；调用方持锁
func (c *Cache[K, V]) lookup(key K) (*list.Element, bool) {
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.expired(el.Value.(*entry[K, V])) {
		c.remove(el)
		c.stats.Misses++
		c.stats.Expires++
		return nil, false
	}
	return el, true
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	base := e.accessed
	if c.cfg.Mode == ExpireAfterWrite {
		base = e.written
	}
	return time.Since(base) >= c.cfg.TTL
}

func (c *Cache[K, V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
