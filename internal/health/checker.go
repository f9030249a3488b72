// Package health 进程健康探针：核心依赖（PostgreSQL、Redis）与
// 业务积压（通知队列）各出一个 Checker，聚合器并发汇总成总体状态。
package health

import (
	"context"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy Status = "healthy" // 健康
	// 降级：仍可服务但有隐患（连接池逼近上限、通知积压过深）
	StatusDegraded Status = "degraded"
	// 不健康：核心依赖不可达，摄取链路无法落库
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult 单项检查结果。Details 携带检查器私有细节
// （连接池统计、积压深度），只供诊断展示，不参与状态判定
type CheckResult struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency"`
}

// Checker 健康检查器。实现必须尊重 ctx 截止时间：
// 探针路由会并发调用全部检查器并等待最慢一个
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
