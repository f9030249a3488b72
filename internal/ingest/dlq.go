package ingest

import (
	"context"

	redisstore "github.com/thermline/hpfleet/internal/storage/redis"
)

// RedisDeadLetter Redis list 死信落点，留给人工回放
type RedisDeadLetter struct {
	client *redisstore.Client
	key    string
}

func NewRedisDeadLetter(client *redisstore.Client, key string) *RedisDeadLetter {
	if key == "" {
		key = "hpfleet:ingest:dlq"
	}
	return &RedisDeadLetter{client: client, key: key}
}

func (d *RedisDeadLetter) Push(ctx context.Context, payload []byte) error {
	return d.client.RPush(ctx, d.key, payload).Err()
}
