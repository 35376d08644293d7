package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "VizBridge/internal/errors"
	"VizBridge/pkg/logger"
)

// DefaultNamespace 是未配置命名空间时使用的分区键。
const DefaultNamespace = "default"

// SettingsStore 将扩展设置持久化到 extension_settings 表，按命名空间隔离。
// 它满足宿主的设置持久化接口：Load 读取整份快照，Store 原子替换整份快照。
type SettingsStore struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

// Open 连接 MySQL、执行迁移并返回 SettingsStore。
func Open(ctx context.Context, cfg Config) (*SettingsStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "")
	}
	logger.Named("storage").Info("MySQL 设置存储已就绪", slog.String("namespace", namespaceOr(cfg.Namespace)))
	return NewSettingsStore(db, cfg.Namespace), nil
}

// NewSettingsStore 基于已有连接创建存储，不执行迁移。
func NewSettingsStore(db *sql.DB, namespace string) *SettingsStore {
	return &SettingsStore{db: db, namespace: namespaceOr(namespace), now: time.Now}
}

func namespaceOr(ns string) string {
	if ns = strings.TrimSpace(ns); ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Load 返回已持久化的设置。没有任何记录时返回 nil，调用方据此保留初始值。
func (s *SettingsStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT setting_key, setting_value FROM extension_settings WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询设置失败")
	}
	defer rows.Close()

	var out map[string]string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析设置失败")
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历设置失败")
	}
	return out, nil
}

// Store 在一个事务中用 values 替换命名空间下的全部设置。
func (s *SettingsStore) Store(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extension_settings WHERE namespace = ?`, s.namespace); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理设置失败")
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updatedAt := s.now().Unix()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extension_settings (namespace, setting_key, setting_value, updated_at) VALUES (?, ?, ?, ?)`,
			s.namespace, k, values[k], updatedAt); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入设置失败", xerrors.WithMetadata("key", k))
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Close 关闭底层连接。
func (s *SettingsStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
