package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/metrics"
	"github.com/thermline/hpfleet/internal/storage"
)

// Sweeper 周期心跳扫描：遍历全量设备，按 now − lastSeen 翻转在线位
// 并驱动两条零 dwell 的心跳告警规则
type Sweeper struct {
	store    storage.Store
	engine   *Engine
	interval time.Duration
	m        *metrics.AppMetrics
	log      *zap.Logger

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

func NewSweeper(store storage.Store, engine *Engine, interval time.Duration, m *metrics.AppMetrics, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		engine:   engine,
		interval: interval,
		m:        m,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start 启动扫描循环（独立 goroutine）
func (sw *Sweeper) Start() {
	go sw.run()
	sw.log.Info("heartbeat sweeper started", zap.Duration("interval", sw.interval))
}

func (sw *Sweeper) run() {
	defer close(sw.done)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sw.interval)
			sw.SweepOnce(ctx)
			cancel()
		case <-sw.stop:
			return
		}
	}
}

// Stop 停止并等待当前轮结束
func (sw *Sweeper) Stop() {
	close(sw.stop)
	<-sw.done
	sw.log.Info("heartbeat sweeper stopped")
}

// SweepOnce 单轮扫描。单设备失败跳过，不中断整轮
func (sw *Sweeper) SweepOnce(ctx context.Context) {
	devices, err := sw.store.ListDevicesForSweep(ctx)
	if err != nil {
		sw.log.Error("sweep device list failed", zap.Error(err))
		return
	}

	now := sw.now()
	online := 0
	for i := range devices {
		dev := devices[i]
		isOnline, err := sw.engine.SweepDevice(ctx, &dev, now)
		if err != nil {
			sw.log.Warn("sweep device failed",
				zap.String("device_id", dev.DeviceID), zap.Error(err))
			continue
		}
		if isOnline != dev.Online {
			if err := sw.store.SetDeviceOnline(ctx, dev.DeviceID, isOnline); err != nil {
				sw.log.Warn("online flag update failed",
					zap.String("device_id", dev.DeviceID), zap.Error(err))
			} else {
				sw.log.Info("device online flag flipped",
					zap.String("device_id", dev.DeviceID), zap.Bool("online", isOnline))
			}
		}
		if isOnline {
			online++
		}
	}

	sw.m.OnlineGauge.Set(float64(online))
	sw.m.SweepTotal.Inc()
	sw.log.Debug("heartbeat sweep done",
		zap.Int("devices", len(devices)), zap.Int("online", online))
}
