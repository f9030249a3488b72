package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore 设备 Actor 持久化快照：每设备一个固定 key 的 JSON blob。
// 冷启动读取，一次变更一次写入。
type SnapshotStore struct {
	rdb    *redis.Client
	prefix string
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(client *Client, prefix string) *SnapshotStore {
	if prefix == "" {
		prefix = "hpfleet:actor:"
	}
	return &SnapshotStore{rdb: client.Client, prefix: prefix}
}

func (s *SnapshotStore) key(deviceID string) string {
	return s.prefix + deviceID
}

// Load 读取设备快照，不存在返回 (nil, nil)
func (s *SnapshotStore) Load(ctx context.Context, deviceID string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load actor snapshot %s: %w", deviceID, err)
	}
	return b, nil
}

// Save 覆盖写设备快照（无 TTL，快照即权威副本）
func (s *SnapshotStore) Save(ctx context.Context, deviceID string, blob []byte) error {
	if err := s.rdb.Set(ctx, s.key(deviceID), blob, 0).Err(); err != nil {
		return fmt.Errorf("save actor snapshot %s: %w", deviceID, err)
	}
	return nil
}
