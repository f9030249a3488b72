package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// AlertNotifier 规则引擎的外发钩子实现：告警事件转推送队列
type AlertNotifier struct {
	queue *Queue
	log   *zap.Logger
}

func NewAlertNotifier(queue *Queue, log *zap.Logger) *AlertNotifier {
	return &AlertNotifier{queue: queue, log: log}
}

func (n *AlertNotifier) AlertOpened(ctx context.Context, a *coremodel.Alert) {
	n.enqueue(ctx, EventAlertOpened, a)
}

func (n *AlertNotifier) AlertClosed(ctx context.Context, a *coremodel.Alert) {
	n.enqueue(ctx, EventAlertClosed, a)
}

// enqueue 失败只记日志：推送是尽力而为，绝不反压告警链路
func (n *AlertNotifier) enqueue(ctx context.Context, typ EventType, a *coremodel.Alert) {
	if err := n.queue.Enqueue(ctx, AlertEvent(typ, a)); err != nil {
		n.log.Warn("notify enqueue failed",
			zap.String("type", string(typ)),
			zap.String("device_id", a.DeviceID),
			zap.Error(err))
	}
}
