package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MathisDulieu/Booking-sub000/patterns/retry"
)

// updateRetry Update 遇到版本冲突时的重试策略
var updateRetry = retry.Config{
	MaxAttempts:   16,
	InitialDelay:  time.Millisecond,
	BackoffFactor: 2.0,
	MaxDelay:      50 * time.Millisecond,
	Retryable:     func(err error) bool { return errors.Is(err, ErrConflict) },
}

// Collection 类型化集合视图
type Collection[T any] struct {
	store Store
	name  string
}

// NewCollection 创建集合视图
func NewCollection[T any](store Store, name string) *Collection[T] {
	return &Collection[T]{store: store, name: name}
}

// Name 集合名
func (c *Collection[T]) Name() string { return c.name }

// Get 读取文档，不存在时返回 ErrNotFound
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var doc T
	err := c.store.Get(ctx, c.name, id, &doc)
	return doc, err
}

// Exists 文档是否存在
func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	return c.store.Exists(ctx, c.name, id)
}

// Save 保存文档
func (c *Collection[T]) Save(ctx context.Context, id string, doc T) error {
	return c.store.Save(ctx, c.name, id, doc)
}

// GetVersion 读取文档及其版本
func (c *Collection[T]) GetVersion(ctx context.Context, id string) (T, int64, error) {
	var doc T
	version, err := c.store.GetVersion(ctx, c.name, id, &doc)
	return doc, version, err
}

// SaveIf 按版本条件保存，见 Store.SaveIf
func (c *Collection[T]) SaveIf(ctx context.Context, id string, doc T, version int64) (int64, error) {
	return c.store.SaveIf(ctx, c.name, id, doc, version)
}

// Create 插入新文档，已存在时返回 ErrConflict
func (c *Collection[T]) Create(ctx context.Context, id string, doc T) error {
	_, err := c.store.SaveIf(ctx, c.name, id, doc, 0)
	return err
}

// Update 读取、变更并按版本条件保存，版本冲突时重新读取后重试
//
// mutate 返回 ErrNoChange 时不保存，Update 返回当前文档与 ErrNoChange；
// 返回其他错误时原样返回。mutate 可能被调用多次，不应有副作用。
func (c *Collection[T]) Update(ctx context.Context, id string, mutate func(doc *T) error) (T, error) {
	var out T
	err := retry.Do(ctx, func(ctx context.Context) error {
		doc, version, err := c.GetVersion(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(&doc); err != nil {
			out = doc
			return err
		}
		if _, err := c.SaveIf(ctx, id, doc, version); err != nil {
			return err
		}
		out = doc
		return nil
	}, updateRetry)
	return out, err
}

// Delete 删除文档
func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	return c.store.Delete(ctx, c.name, id)
}

// Find 查询并解码，返回当前页与总数
func (c *Collection[T]) Find(ctx context.Context, q Query) ([]T, int, error) {
	page, err := c.store.Find(ctx, c.name, q)
	if err != nil {
		return nil, 0, err
	}
	items := make([]T, 0, len(page.Items))
	for _, raw := range page.Items {
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, 0, fmt.Errorf("decode %s document: %w", c.name, err)
		}
		items = append(items, doc)
	}
	return items, page.Total, nil
}

// FindOne 返回第一个匹配文档，无匹配时返回 ErrNotFound
func (c *Collection[T]) FindOne(ctx context.Context, filter map[string]any) (T, error) {
	items, _, err := c.Find(ctx, Query{Filter: filter, Size: 1})
	if err != nil {
		var zero T
		return zero, err
	}
	if len(items) == 0 {
		var zero T
		return zero, fmt.Errorf("%s: %w", c.name, ErrNotFound)
	}
	return items[0], nil
}
