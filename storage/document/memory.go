package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore 进程内文档存储，测试与单进程运行使用
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]stored
}

type stored struct {
	raw     json.RawMessage
	version int64
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]stored)}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string, out any) error {
	_, err := s.GetVersion(ctx, collection, id, out)
	return err
}

func (s *MemoryStore) GetVersion(ctx context.Context, collection, id string, out any) (int64, error) {
	if err := checkKey(collection, id); err != nil {
		return 0, err
	}
	s.mu.RLock()
	doc, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return doc.version, json.Unmarshal(doc.raw, out)
}

func (s *MemoryStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := checkKey(collection, id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection][id]
	return ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, collection, id string, doc any) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs(collection)
	docs[id] = stored{raw: raw, version: docs[id].version + 1}
	return nil
}

func (s *MemoryStore) SaveIf(ctx context.Context, collection, id string, doc any, version int64) (int64, error) {
	if err := checkKey(collection, id); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs(collection)
	if docs[id].version != version {
		return 0, fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	docs[id] = stored{raw: raw, version: version + 1}
	return version + 1, nil
}

// docs 返回集合，不存在时创建；调用方持写锁
func (s *MemoryStore) docs(collection string) map[string]stored {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]stored)
		s.collections[collection] = docs
	}
	return docs
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := checkKey(collection, id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return false, nil
	}
	delete(s.collections[collection], id)
	return true, nil
}

func (s *MemoryStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, err
	}

	type row struct {
		id     string
		raw    json.RawMessage
		fields map[string]any
	}

	s.mu.RLock()
	rows := make([]row, 0, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		var fields map[string]any
		if err := json.Unmarshal(doc.raw, &fields); err != nil {
			continue
		}
		if matches(fields, q) {
			rows = append(rows, row{id: id, raw: doc.raw, fields: fields})
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if q.SortBy != "" {
			a, b := rows[i].fields[q.SortBy], rows[j].fields[q.SortBy]
			if c := compareValues(a, b); c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return rows[i].id < rows[j].id
	})

	page := Page{Total: len(rows)}
	start, end := q.offset(), len(rows)
	if q.Size > 0 && start+q.Size < end {
		end = start + q.Size
	}
	for i := start; i < end; i++ {
		page.Items = append(page.Items, rows[i].raw)
	}
	return page, nil
}

func (s *MemoryStore) Close() error { return nil }

func matches(fields map[string]any, q Query) bool {
	for field, want := range q.Filter {
		if !equalValues(fields[field], normalize(want)) {
			return false
		}
	}
	for field, needle := range q.Like {
		text, ok := fields[field].(string)
		if !ok || !strings.Contains(strings.ToLower(text), strings.ToLower(needle)) {
			return false
		}
	}
	return true
}

// normalize 将过滤值转换为 JSON 解码后的形态（数字为 float64）
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func equalValues(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// compareValues 排序比较：nil 最小，数字与字符串各自有序，类型不同时按类型名
func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	if b == nil {
		return 1
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}
