package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 业务指标
type AppMetrics struct {
	IngestTotal    *prometheus.CounterVec // labels: kind, result=ok|retry|dead
	IngestDuration prometheus.Histogram
	AlertOpened    *prometheus.CounterVec // labels: rule
	AlertClosed    *prometheus.CounterVec // labels: rule
	RuleEvalErrors *prometheus.CounterVec // labels: rule
	OnlineGauge    prometheus.Gauge       // 当前在线设备数
	ActorGauge     prometheus.Gauge       // 存活 Actor 数
	CommandTotal   *prometheus.CounterVec // labels: status
	SweepTotal     prometheus.Counter     // 心跳扫描轮次
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Ingest queue messages by kind and result.",
		}, []string{"kind", "result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_process_duration_seconds",
			Help:    "Per-message ingest processing duration.",
			Buckets: prometheus.DefBuckets,
		}),
		AlertOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_opened_total",
			Help: "Alerts opened by rule key.",
		}, []string{"rule"}),
		AlertClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_closed_total",
			Help: "Alerts closed by rule key.",
		}, []string{"rule"}),
		RuleEvalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rule_eval_errors_total",
			Help: "Per-rule evaluation failures (rule-isolated).",
		}, []string{"rule"}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devices_online",
			Help: "Current number of online devices.",
		}),
		ActorGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "device_actors_live",
			Help: "Currently instantiated device actors.",
		}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Command lifecycle transitions by resulting status.",
		}, []string{"status"}),
		SweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartbeat_sweeps_total",
			Help: "Heartbeat sweep iterations.",
		}),
	}
	reg.MustRegister(
		m.IngestTotal, m.IngestDuration,
		m.AlertOpened, m.AlertClosed, m.RuleEvalErrors,
		m.OnlineGauge, m.ActorGauge, m.CommandTotal, m.SweepTotal,
	)
	return m
}
