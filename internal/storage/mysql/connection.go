package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

const (
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultDialTimeout     = 5 * time.Second
	defaultIOTimeout       = 30 * time.Second
)

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	Namespace       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// normalizeDSN 解析 DSN 并补齐未显式指定的超时。
func normalizeDSN(dsn string) (*driver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	mc, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if mc.Timeout == 0 {
		mc.Timeout = defaultDialTimeout
	}
	if mc.ReadTimeout == 0 {
		mc.ReadTimeout = defaultIOTimeout
	}
	if mc.WriteTimeout == 0 {
		mc.WriteTimeout = defaultIOTimeout
	}
	mc.MultiStatements = false
	return mc, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	mc, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, defaultMaxIdleConns))
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	db.SetConnMaxLifetime(lifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL %s: %w", mc.Addr, err)
	}
	return db, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
