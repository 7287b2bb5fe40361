package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Execer 可执行语句的对象（*sql.DB、*sql.Tx）
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertBuilder 基于 "INSERT ... ON CONFLICT DO UPDATE" 的单行 upsert
type UpsertBuilder struct {
	table   string
	columns []string
	values  []any
	keys    []string
	sets    map[string]string
}

// UpsertInto 创建 upsert 构建器
func UpsertInto(table string) *UpsertBuilder {
	return &UpsertBuilder{table: table}
}

func (b *UpsertBuilder) Columns(cols ...string) *UpsertBuilder {
	b.columns = cols
	return b
}

func (b *UpsertBuilder) Values(vals ...any) *UpsertBuilder {
	b.values = vals
	return b
}

// Key 冲突判定列，需为唯一约束
func (b *UpsertBuilder) Key(cols ...string) *UpsertBuilder {
	b.keys = cols
	return b
}

// Set 冲突时以 expr 更新 col，替代默认的 excluded 值
func (b *UpsertBuilder) Set(col, expr string) *UpsertBuilder {
	if b.sets == nil {
		b.sets = make(map[string]string)
	}
	b.sets[col] = expr
	return b
}

// Build 生成语句；非键列在冲突时被更新
func (b *UpsertBuilder) Build() (string, []any, error) {
	if len(b.columns) == 0 {
		return "", nil, fmt.Errorf("upsert: Columns is required")
	}
	if len(b.values) != len(b.columns) {
		return "", nil, fmt.Errorf("upsert: values length mismatch columns length")
	}
	if len(b.keys) == 0 {
		return "", nil, fmt.Errorf("upsert: Key is required")
	}

	isKey := make(map[string]bool, len(b.keys))
	for _, k := range b.keys {
		isKey[k] = true
	}
	updates := make([]string, 0, len(b.columns))
	for _, col := range b.columns {
		if isKey[col] {
			continue
		}
		if expr, ok := b.sets[col]; ok {
			updates = append(updates, col+" = "+expr)
		} else {
			updates = append(updates, col+" = excluded."+col)
		}
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", "))
	sb.WriteString(") ON CONFLICT (")
	sb.WriteString(strings.Join(b.keys, ", "))
	if len(updates) == 0 {
		sb.WriteString(") DO NOTHING")
	} else {
		sb.WriteString(") DO UPDATE SET ")
		sb.WriteString(strings.Join(updates, ", "))
	}
	return sb.String(), b.values, nil
}

// Exec 执行 upsert
func (b *UpsertBuilder) Exec(ctx context.Context, db Execer) (sql.Result, error) {
	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}
