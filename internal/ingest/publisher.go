package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	cfgpkg "github.com/thermline/hpfleet/internal/config"
	"github.com/thermline/hpfleet/internal/coremodel"
)

// Publisher 摄取边界的入队端：HTTP 入口收到合法载荷后写队列，
// 由消费端统一处理。key 取 deviceId，同设备消息落同分区保序。
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg cfgpkg.KafkaConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Publisher) PublishTelemetry(ctx context.Context, payload *coremodel.TelemetryPayload) error {
	return p.publish(ctx, coremodel.KindTelemetry, payload.DeviceID, payload)
}

func (p *Publisher) PublishHeartbeat(ctx context.Context, payload *coremodel.HeartbeatPayload) error {
	return p.publish(ctx, coremodel.KindHeartbeat, payload.DeviceID, payload)
}

func (p *Publisher) publish(ctx context.Context, kind coremodel.MessageKind, deviceID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env, err := json.Marshal(coremodel.Envelope{Kind: kind, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(deviceID),
		Value: env,
	}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
