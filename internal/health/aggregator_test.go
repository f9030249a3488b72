package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Status:  m.status,
		Message: "mock",
		Latency: time.Millisecond,
	}
}

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"redis", StatusHealthy},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", status)
		}
		if !agg.Ready(context.Background()) {
			t.Error("全部健康时应该Ready")
		}
	})

	t.Run("部分降级", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"notify_queue", StatusDegraded},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", status)
		}
		// 降级状态仍然Ready
		if !agg.Ready(context.Background()) {
			t.Error("降级状态应该仍然Ready")
		}
	})

	t.Run("部分不健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"database", StatusHealthy},
			&mockChecker{"redis", StatusUnhealthy},
		)

		if status := agg.OverallStatus(context.Background()); status != StatusUnhealthy {
			t.Errorf("期望StatusUnhealthy，实际: %v", status)
		}
		if agg.Ready(context.Background()) {
			t.Error("不健康状态不应该Ready")
		}
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"database", StatusHealthy})
		agg.AddChecker(&mockChecker{"redis", StatusUnhealthy})

		if status := agg.OverallStatus(context.Background()); status != StatusUnhealthy {
			t.Errorf("期望StatusUnhealthy，实际: %v", status)
		}
	})
}

type fakeQueue struct {
	depth int64
	err   error
}

func (f *fakeQueue) QueueLength(_ context.Context) (int64, error) {
	return f.depth, f.err
}

func TestNotifyQueueChecker(t *testing.T) {
	t.Run("积压浅为健康", func(t *testing.T) {
		c := NewNotifyQueueChecker(&fakeQueue{depth: 10}, 100)
		if res := c.Check(context.Background()); res.Status != StatusHealthy {
			t.Errorf("期望StatusHealthy，实际: %v", res.Status)
		}
	})

	t.Run("积压深为降级", func(t *testing.T) {
		c := NewNotifyQueueChecker(&fakeQueue{depth: 500}, 100)
		if res := c.Check(context.Background()); res.Status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", res.Status)
		}
	})

	t.Run("查询失败为降级而非不健康", func(t *testing.T) {
		c := NewNotifyQueueChecker(&fakeQueue{err: errors.New("conn reset")}, 100)
		if res := c.Check(context.Background()); res.Status != StatusDegraded {
			t.Errorf("期望StatusDegraded，实际: %v", res.Status)
		}
	})
}
