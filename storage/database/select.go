package database

import (
	"strings"
)

// SelectBuilder 最小 SELECT 构建器，占位符为 "?"
type SelectBuilder struct {
	cols    []string
	table   string
	where   []string
	args    []any
	orderBy string
	limit   int
	offset  int
}

// Select 创建 SELECT 构建器，未指定列时为 "*"
func Select(columns ...string) *SelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &SelectBuilder{cols: columns}
}

func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.table = table
	return b
}

// Where 追加条件，多个条件以 AND 连接
func (b *SelectBuilder) Where(cond string, args ...any) *SelectBuilder {
	if cond != "" {
		b.where = append(b.where, cond)
		b.args = append(b.args, args...)
	}
	return b
}

// Or 与上一个条件以 OR 组合
func (b *SelectBuilder) Or(cond string, args ...any) *SelectBuilder {
	if cond == "" {
		return b
	}
	if len(b.where) == 0 {
		return b.Where(cond, args...)
	}
	last := b.where[len(b.where)-1]
	b.where[len(b.where)-1] = "(" + last + " OR " + cond + ")"
	b.args = append(b.args, args...)
	return b
}

func (b *SelectBuilder) OrderBy(expr string) *SelectBuilder {
	b.orderBy = expr
	return b
}

func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = n
	return b
}

// Build 生成语句与参数
func (b *SelectBuilder) Build() (string, []any) {
	var sb strings.Builder
	args := append([]any{}, b.args...)

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.cols, ", "))
	b.writeFromWhere(&sb)

	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
		if b.offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, b.offset)
		}
	}
	return sb.String(), args
}

// BuildCount 生成同条件的 COUNT(*) 语句，忽略排序与分页
func (b *SelectBuilder) BuildCount() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*)")
	b.writeFromWhere(&sb)
	return sb.String(), append([]any{}, b.args...)
}

func (b *SelectBuilder) writeFromWhere(sb *strings.Builder) {
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
}
