package health

import (
	"context"
	"fmt"
	"time"
)

// QueueLengther 报告待推送通知积压长度
type QueueLengther interface {
	QueueLength(ctx context.Context) (int64, error)
}

// NotifyQueueChecker 通知队列积压检查器。积压过深说明 webhook
// 下游消化不过来，降级但不摘除服务。
type NotifyQueueChecker struct {
	queue         QueueLengther
	degradedDepth int64
}

// NewNotifyQueueChecker degradedDepth <= 0 时使用默认值 1000
func NewNotifyQueueChecker(queue QueueLengther, degradedDepth int64) *NotifyQueueChecker {
	if degradedDepth <= 0 {
		degradedDepth = 1000
	}
	return &NotifyQueueChecker{queue: queue, degradedDepth: degradedDepth}
}

func (c *NotifyQueueChecker) Name() string {
	return "notify_queue"
}

func (c *NotifyQueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	depth, err := c.queue.QueueLength(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("queue length query failed: %v", err),
			Latency: time.Since(start),
		}
	}

	status := StatusHealthy
	message := "ok"
	if depth >= c.degradedDepth {
		status = StatusDegraded
		message = "notification backlog too deep"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"depth":          depth,
			"degraded_depth": c.degradedDepth,
		},
		Latency: time.Since(start),
	}
}
