// Package notify 告警事件的 Webhook 异步推送：
// 引擎开/关告警 → Redis 队列 → worker 签名推送，失败重试后进死信。
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// EventType 推送事件类型
type EventType string

const (
	EventAlertOpened EventType = "alert.opened"
	EventAlertClosed EventType = "alert.closed"
)

// Event 对外推送的标准事件
type Event struct {
	EventID   string         `json:"eventId"`
	Type      EventType      `json:"type"`
	DeviceID  string         `json:"deviceId"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// AlertEvent 从告警构造推送事件
func AlertEvent(typ EventType, a *coremodel.Alert) *Event {
	data := map[string]any{
		"alertId":  a.ID,
		"type":     a.Type,
		"severity": string(a.Severity),
		"openedAt": a.OpenedAt.Unix(),
	}
	if a.Kind != "" {
		data["kind"] = a.Kind
	}
	if a.ClosedAt != nil {
		data["closedAt"] = a.ClosedAt.Unix()
	}
	if len(a.Meta) > 0 {
		data["meta"] = a.Meta
	}
	return &Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		DeviceID:  a.DeviceID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}
