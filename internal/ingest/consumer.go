package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/actor"
	"github.com/thermline/hpfleet/internal/alerts"
	cfgpkg "github.com/thermline/hpfleet/internal/config"
	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/metrics"
	"github.com/thermline/hpfleet/internal/storage"
)

// messageFetcher kafka.Reader 的最小面（测试替身用）
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetter 不可恢复消息的落点
type DeadLetter interface {
	Push(ctx context.Context, payload []byte) error
}

// Consumer 队列消费者。单条消息失败只重试该条，重试耗尽进死信并提交位点，
// 保证分区不被毒消息卡死
type Consumer struct {
	reader messageFetcher
	store  storage.Store
	actors *actor.Registry
	engine *alerts.Engine
	dlq    DeadLetter
	cfg    cfgpkg.IngestConfig
	m      *metrics.AppMetrics
	log    *zap.Logger

	done chan struct{}
}

// NewReader 按配置构造 kafka 消费组 Reader
func NewReader(cfg cfgpkg.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     cfg.MaxWait,
	})
}

func NewConsumer(reader messageFetcher, store storage.Store, actors *actor.Registry, engine *alerts.Engine,
	dlq DeadLetter, cfg cfgpkg.IngestConfig, m *metrics.AppMetrics, log *zap.Logger) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Consumer{
		reader: reader,
		store:  store,
		actors: actors,
		engine: engine,
		dlq:    dlq,
		cfg:    cfg,
		m:      m,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Run 消费循环，ctx 取消后返回
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.Error("kafka reader close failed", zap.Error(err))
		}
	}()
	c.log.Info("ingest consumer started")

	backoff := time.Second
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("ingest consumer stopped")
				return
			}
			c.log.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = time.Second

		c.handleMessage(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			// 提交失败导致重投递；处理全程幂等，重复执行安全
			c.log.Error("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Done 消费循环结束信号
func (c *Consumer) Done() <-chan struct{} { return c.done }

// handleMessage 单条消息：有限次重试，耗尽进死信
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) {
	kind, err := c.processOnce(ctx, msg.Value)
	for attempt := 1; err != nil && attempt <= c.cfg.MaxRetries; attempt++ {
		c.m.IngestTotal.WithLabelValues(string(kind), "retry").Inc()
		c.log.Warn("message processing failed, retrying",
			zap.Int64("offset", msg.Offset), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(c.cfg.RetryBackoff):
		case <-ctx.Done():
			return
		}
		kind, err = c.processOnce(ctx, msg.Value)
	}

	if err != nil {
		c.m.IngestTotal.WithLabelValues(string(kind), "dead").Inc()
		c.log.Error("message dead-lettered",
			zap.Int64("offset", msg.Offset), zap.Int("partition", msg.Partition), zap.Error(err))
		if c.dlq != nil {
			if dlqErr := c.dlq.Push(ctx, msg.Value); dlqErr != nil {
				c.log.Error("dead letter push failed", zap.Error(dlqErr))
			}
		}
		return
	}
	c.m.IngestTotal.WithLabelValues(string(kind), "ok").Inc()
}

// processOnce 解信封并分发，返回消息类型供指标打标
func (c *Consumer) processOnce(ctx context.Context, raw []byte) (coremodel.MessageKind, error) {
	start := time.Now()

	var env coremodel.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "unknown", fmt.Errorf("decode envelope: %w", err)
	}

	var err error
	var deviceID string
	switch env.Kind {
	case coremodel.KindTelemetry:
		var p coremodel.TelemetryPayload
		if err = json.Unmarshal(env.Payload, &p); err != nil {
			err = fmt.Errorf("decode telemetry: %w", err)
			break
		}
		deviceID = p.DeviceID
		err = c.processTelemetry(ctx, &p)
	case coremodel.KindHeartbeat:
		var p coremodel.HeartbeatPayload
		if err = json.Unmarshal(env.Payload, &p); err != nil {
			err = fmt.Errorf("decode heartbeat: %w", err)
			break
		}
		deviceID = p.DeviceID
		err = c.processHeartbeat(ctx, &p)
	default:
		err = fmt.Errorf("unknown message kind %q", env.Kind)
	}

	elapsed := time.Since(start)
	c.m.IngestDuration.Observe(elapsed.Seconds())
	c.recordOpsMetric(ctx, "ingest."+string(env.Kind), err, deviceID, elapsed)
	return env.Kind, err
}

func (c *Consumer) processTelemetry(ctx context.Context, p *coremodel.TelemetryPayload) error {
	if p.DeviceID == "" {
		return fmt.Errorf("telemetry without deviceId")
	}
	if p.Ts.IsZero() {
		return fmt.Errorf("telemetry without timestamp")
	}

	Sanitize(p)
	enriched := &coremodel.EnrichedSample{
		TelemetryPayload: *p,
		Derived:          coremodel.ComputeDerived(p.Metrics),
	}

	dev, err := c.store.EnsureDevice(ctx, p.DeviceID)
	if err != nil {
		return fmt.Errorf("ensure device: %w", err)
	}
	if err := c.store.InsertTelemetry(ctx, enriched); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	if err := c.store.UpsertLatestState(ctx, enriched); err != nil {
		return fmt.Errorf("upsert latest state: %w", err)
	}
	if err := c.store.MarkDeviceOnline(ctx, p.DeviceID, p.Ts); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}

	a := c.actors.Get(p.DeviceID)
	if err := a.PutState(ctx, enriched); err != nil {
		return fmt.Errorf("actor put state: %w", err)
	}
	if err := a.AppendWindowSample(ctx, coremodel.WindowSample{
		Ts:       p.Ts,
		DeltaT:   enriched.Derived.DeltaT,
		COP:      enriched.Derived.COP,
		CurrentA: p.Metrics.CompressorA,
	}); err != nil {
		return fmt.Errorf("actor append window: %w", err)
	}

	// 规则评估以"刚收到遥测"为在线依据，不等下一轮心跳扫描
	devForRules := *dev
	devForRules.Online = true
	if err := c.engine.EvaluateSample(ctx, &devForRules, enriched); err != nil {
		return fmt.Errorf("rule evaluation: %w", err)
	}
	return nil
}

func (c *Consumer) processHeartbeat(ctx context.Context, p *coremodel.HeartbeatPayload) error {
	if p.DeviceID == "" {
		return fmt.Errorf("heartbeat without deviceId")
	}
	if p.Ts.IsZero() {
		return fmt.Errorf("heartbeat without timestamp")
	}

	if _, err := c.store.EnsureDevice(ctx, p.DeviceID); err != nil {
		return fmt.Errorf("ensure device: %w", err)
	}
	if err := c.store.RecordHeartbeat(ctx, p); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	if err := c.store.MarkDeviceOnline(ctx, p.DeviceID, p.Ts); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}

	ts := p.Ts
	return c.actors.Get(p.DeviceID).Do(ctx, func(s *actor.Snapshot) (bool, error) {
		if s.LastHeartbeatTs != nil && !ts.After(*s.LastHeartbeatTs) {
			return false, nil
		}
		s.LastHeartbeatTs = &ts
		return true, nil
	})
}

// recordOpsMetric 处理指标失败只记日志，绝不影响主链路
func (c *Consumer) recordOpsMetric(ctx context.Context, route string, procErr error, deviceID string, d time.Duration) {
	status := "ok"
	if procErr != nil {
		status = "error"
	}
	if err := c.store.InsertOpsMetric(ctx, route, status, deviceID, d); err != nil {
		c.log.Debug("ops metric insert failed", zap.Error(err))
	}
}
