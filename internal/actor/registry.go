package actor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Registry Actor 注册表：按 deviceId 惰性创建，全生命周期复用
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor

	store       SnapshotStore
	retention   time.Duration
	mailboxSize int
	log         *zap.Logger
	gauge       prometheus.Gauge
}

// NewRegistry gauge 可为 nil（测试场景）
func NewRegistry(store SnapshotStore, retention time.Duration, mailboxSize int, log *zap.Logger, gauge prometheus.Gauge) *Registry {
	return &Registry{
		actors:      make(map[string]*Actor),
		store:       store,
		retention:   retention,
		mailboxSize: mailboxSize,
		log:         log,
		gauge:       gauge,
	}
}

// Get 返回设备的 Actor，不存在则创建并启动
func (r *Registry) Get(deviceID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[deviceID]; ok {
		return a
	}
	a := newActor(deviceID, r.store, r.retention, r.mailboxSize, r.log, func(failed *Actor) {
		r.evict(deviceID, failed)
	})
	r.actors[deviceID] = a
	if r.gauge != nil {
		r.gauge.Set(float64(len(r.actors)))
	}
	r.log.Info("device actor spawned", zap.String("device_id", deviceID))
	return a
}

// evict 摘除加载失败的实例（仅当注册表里仍是同一实例），
// 下一次 Get 会重新拉起并重试快照加载
func (r *Registry) evict(deviceID string, failed *Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.actors[deviceID]; ok && cur == failed {
		delete(r.actors, deviceID)
		if r.gauge != nil {
			r.gauge.Set(float64(len(r.actors)))
		}
		r.log.Warn("device actor evicted after snapshot load failure",
			zap.String("device_id", deviceID))
	}
}

// Peek 只查不建
func (r *Registry) Peek(deviceID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[deviceID]
	return a, ok
}

// Len 当前活跃 Actor 数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Shutdown 关闭全部 Actor 并等待 mailbox 排空
func (r *Registry) Shutdown() {
	r.mu.Lock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = make(map[string]*Actor)
	r.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	if r.gauge != nil {
		r.gauge.Set(0)
	}
	r.log.Info("all device actors stopped", zap.Int("count", len(actors)))
}
