package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	xerrors "VizBridge/internal/errors"
)

// DefaultSettingsKey 是保存设置快照的哈希键。
const DefaultSettingsKey = "vizbridge:settings"

// SettingsStore 把设置快照保存在一个 Redis 哈希中，字段为设置键，值为 JSON 文本。
type SettingsStore struct {
	client goredis.UniversalClient
	key    string
}

// NewSettingsStore 创建哈希存储。
func NewSettingsStore(client goredis.UniversalClient, key string) (*SettingsStore, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "Redis 客户端不能为空")
	}
	if key == "" {
		key = DefaultSettingsKey
	}
	return &SettingsStore{client: client, key: key}, nil
}

// Load 读取快照。哈希不存在时返回 nil。
func (s *SettingsStore) Load(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 设置失败")
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// Store 在 MULTI/EXEC 中删除旧哈希并写入新快照。
func (s *SettingsStore) Store(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			fields := make(map[string]any, len(values))
			for k, v := range values {
				fields[k] = v
			}
			pipe.HSet(ctx, s.key, fields)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入 Redis 设置失败 (%s)", s.key))
	}
	return nil
}
