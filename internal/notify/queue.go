package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueKey    = "hpfleet:notify:queue"
	dlqKey      = "hpfleet:notify:dlq"
	retryKeyFmt = "hpfleet:notify:retry:%s" // event_id

	maxPushRetries = 5
	retryTTL       = 24 * time.Hour
)

// Queue 告警事件异步推送队列：Redis list 承载，worker 并发消费
type Queue struct {
	redis      *redis.Client
	pusher     *Pusher
	webhookURL string
	log        *zap.Logger
}

func NewQueue(redisClient *redis.Client, pusher *Pusher, webhookURL string, log *zap.Logger) *Queue {
	return &Queue{
		redis:      redisClient,
		pusher:     pusher,
		webhookURL: webhookURL,
		log:        log,
	}
}

// Enqueue 入队，不阻塞告警主链路
func (q *Queue) Enqueue(ctx context.Context, event *Event) error {
	if q == nil || q.redis == nil {
		return fmt.Errorf("notify queue not initialized")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.redis.RPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	q.log.Debug("notify event enqueued",
		zap.String("event_id", event.EventID), zap.String("type", string(event.Type)))
	return nil
}

// StartWorkers 启动消费 worker
func (q *Queue) StartWorkers(ctx context.Context, count int) {
	if q == nil || q.redis == nil || q.pusher == nil {
		q.log.Error("notify workers cannot start: queue not initialized")
		return
	}
	if count <= 0 {
		count = 3
	}
	q.log.Info("starting notify workers",
		zap.Int("count", count), zap.String("webhook_url", q.webhookURL))
	for i := 0; i < count; i++ {
		go q.worker(ctx, i+1)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	log := q.log.With(zap.Int("worker_id", id))
	log.Info("notify worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("notify worker stopped")
			return
		default:
			result, err := q.redis.BLPop(ctx, 5*time.Second, queueKey).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Error("redis blpop failed", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(result) < 2 {
				continue
			}
			q.process(ctx, result[1], log)
		}
	}
}

func (q *Queue) process(ctx context.Context, raw string, log *zap.Logger) {
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		log.Error("malformed notify event dropped", zap.Error(err))
		return
	}

	retries, err := q.retryCount(ctx, event.EventID)
	if err != nil {
		log.Warn("retry count lookup failed", zap.Error(err))
	}
	if retries >= maxPushRetries {
		log.Warn("notify event exceeded max retries",
			zap.String("event_id", event.EventID), zap.Int("retries", retries))
		q.moveToDLQ(ctx, raw, "max_retries_exceeded")
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	code, respBody, err := q.pusher.SendJSON(pushCtx, q.webhookURL, &event)
	cancel()

	switch {
	case err != nil || code >= 500:
		log.Warn("notify push failed, re-enqueueing",
			zap.String("event_id", event.EventID), zap.Int("status", code), zap.Error(err))
		q.bumpRetryCount(ctx, event.EventID)
		delay := time.Duration(1<<uint(retries)) * time.Second
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := q.redis.RPush(ctx, queueKey, raw).Err(); err != nil {
			q.moveToDLQ(ctx, raw, "re_enqueue_failed")
		}
	case code >= 400:
		// 4xx 不可重试
		log.Warn("notify push rejected",
			zap.String("event_id", event.EventID), zap.Int("status", code),
			zap.ByteString("response", respBody))
		q.moveToDLQ(ctx, raw, fmt.Sprintf("client_error_%d", code))
	default:
		log.Info("notify event pushed",
			zap.String("event_id", event.EventID), zap.Int("status", code))
		q.redis.Del(ctx, fmt.Sprintf(retryKeyFmt, event.EventID))
	}
}

func (q *Queue) moveToDLQ(ctx context.Context, raw, reason string) {
	record, err := json.Marshal(map[string]any{
		"event":     json.RawMessage(raw),
		"reason":    reason,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		q.log.Error("dlq record marshal failed", zap.Error(err))
		return
	}
	if err := q.redis.RPush(ctx, dlqKey, record).Err(); err != nil {
		q.log.Error("dlq push failed", zap.Error(err))
	}
}

func (q *Queue) retryCount(ctx context.Context, eventID string) (int, error) {
	val, err := q.redis.Get(ctx, fmt.Sprintf(retryKeyFmt, eventID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (q *Queue) bumpRetryCount(ctx context.Context, eventID string) {
	key := fmt.Sprintf(retryKeyFmt, eventID)
	if err := q.redis.Incr(ctx, key).Err(); err != nil {
		q.log.Warn("retry count incr failed", zap.Error(err))
		return
	}
	q.redis.Expire(ctx, key, retryTTL)
}

// QueueLength 主队列长度（健康检查用）
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	if q == nil || q.redis == nil {
		return 0, fmt.Errorf("queue not initialized")
	}
	return q.redis.LLen(ctx, queueKey).Result()
}
