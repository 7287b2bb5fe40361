// Package database 提供基于 database/sql 的连接打开与最小 SQL 构建
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Config 数据库连接配置
type Config struct {
	// Driver 驱动名，默认 sqlite
	Driver string

	// DSN 数据源，sqlite 下为文件路径或 ":memory:"
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 打开连接并做可用性检查
//
// sqlite 内存库每个连接相互独立，此时连接池固定为 1。
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := config.DSN
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if isSQLiteMemory(driver, dsn) {
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == "sqlite" && !isSQLiteMemory(driver, dsn) {
		// 文件库开启 WAL，读写并发时减少 SQLITE_BUSY
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	return db, nil
}

func isSQLiteMemory(driver, dsn string) bool {
	return driver == "sqlite" && (dsn == ":memory:" || strings.Contains(dsn, "mode=memory"))
}
