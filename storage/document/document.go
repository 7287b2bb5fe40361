// Package document 提供按集合组织的 JSON 文档存储
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound 文档不存在
	ErrNotFound = errors.New("document not found")

	// ErrInvalidID 集合名或文档ID为空
	ErrInvalidID = errors.New("invalid document id")

	// ErrConflict 条件保存时文档版本已变化
	ErrConflict = errors.New("document version conflict")

	// ErrNoChange 由 Update 的变更函数返回，表示无需保存
	ErrNoChange = errors.New("document unchanged")
)

// Store 文档存储
type Store interface {
	// Get 读取文档并解码到 out，不存在时返回 ErrNotFound
	Get(ctx context.Context, collection, id string, out any) error

	// Exists 文档是否存在
	Exists(ctx context.Context, collection, id string) (bool, error)

	// Find 按条件过滤、排序并分页
	Find(ctx context.Context, collection string, q Query) (Page, error)

	// GetVersion 读取文档并返回当前版本，版本从 1 开始，每次保存加 1
	GetVersion(ctx context.Context, collection, id string, out any) (int64, error)

	// Save 插入或整体覆盖文档
	Save(ctx context.Context, collection, id string, doc any) error

	// SaveIf 仅当文档当前版本等于 version 时保存，version 为 0 表示文档必须不存在。
	// 条件不满足返回 ErrConflict，成功返回新版本。
	SaveIf(ctx context.Context, collection, id string, doc any, version int64) (int64, error)

	// Delete 删除文档，返回是否存在
	Delete(ctx context.Context, collection, id string) (bool, error)

	Close() error
}

// Query 查询条件
//
// Filter 对顶层字段做相等比较；Like 对顶层字符串字段做大小写不敏感的包含匹配。
// Page 从 0 开始；Size <= 0 表示不分页。
type Query struct {
	Filter map[string]any
	Like   map[string]string
	SortBy string
	Desc   bool
	Page   int
	Size   int
}

// Page 查询结果页
type Page struct {
	Items []json.RawMessage
	Total int
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate 校验字段名，字段名会进入 JSON 路径
func (q Query) Validate() error {
	for field := range q.Filter {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("invalid filter field %q", field)
		}
	}
	for field := range q.Like {
		if !fieldPattern.MatchString(field) {
			return fmt.Errorf("invalid like field %q", field)
		}
	}
	if q.SortBy != "" && !fieldPattern.MatchString(q.SortBy) {
		return fmt.Errorf("invalid sort field %q", q.SortBy)
	}
	if q.Page < 0 {
		return fmt.Errorf("page must not be negative")
	}
	return nil
}

func (q Query) offset() int {
	if q.Size <= 0 {
		return 0
	}
	return q.Page * q.Size
}

func checkKey(collection, id string) error {
	if collection == "" || id == "" {
		return ErrInvalidID
	}
	return nil
}
