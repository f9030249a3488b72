package coremodel

import (
	"encoding/json"
	"time"
)

// 注意：
// - 本包是纯领域模型，不带任何持久化标签
// - 与 db/migrations/0001_init.sql 对齐的 ORM 模型见 internal/storage/models

// MessageKind 队列消息类型
type MessageKind string

const (
	KindTelemetry MessageKind = "telemetry"
	KindHeartbeat MessageKind = "heartbeat"
)

// Envelope 队列消息信封：{kind, payload}
type Envelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Metrics 原始遥测指标。指针字段表示"可缺失"：
// 清洗阶段会把非有限数（NaN/Inf）置为 nil，而不是拒绝整条消息
type Metrics struct {
	SupplyC     *float64 `json:"supplyC,omitempty"`     // 出水温度 ℃
	ReturnC     *float64 `json:"returnC,omitempty"`     // 回水温度 ℃
	TankC       *float64 `json:"tankC,omitempty"`       // 水箱温度 ℃
	AmbientC    *float64 `json:"ambientC,omitempty"`    // 环境温度 ℃
	FlowLMin    *float64 `json:"flowLMin,omitempty"`    // 流量 L/min
	CompressorA *float64 `json:"compressorA,omitempty"` // 压缩机电流 A
	EEVSteps    *int32   `json:"eevSteps,omitempty"`    // 电子膨胀阀步数
	PowerKW     *float64 `json:"powerKW,omitempty"`     // 电功率 kW
}

// CompressorOn 压缩机是否运行（以电流阈值判定，缺失视为停机）
func (m Metrics) CompressorOn() bool {
	return m.CompressorA != nil && *m.CompressorA >= 0.5
}

// DeviceStatus 设备状态位
type DeviceStatus struct {
	Mode    string              `json:"mode,omitempty"` // heating/cooling/dhw/standby
	Defrost bool                `json:"defrost,omitempty"`
	Online  bool                `json:"online,omitempty"`
	Flags   map[string][]string `json:"flags,omitempty"` // 标志组 -> 标志列表
}

// Fault 设备故障项
type Fault struct {
	Code     string `json:"code"`
	Severity string `json:"severity,omitempty"`
}

// TelemetryPayload 遥测载荷（入队前已通过边界层 schema 校验）
type TelemetryPayload struct {
	DeviceID string        `json:"deviceId"`
	Ts       time.Time     `json:"ts"`
	Metrics  Metrics       `json:"metrics"`
	Status   *DeviceStatus `json:"status,omitempty"`
	Faults   []Fault       `json:"faults,omitempty"`
}

// HeartbeatPayload 心跳载荷
type HeartbeatPayload struct {
	DeviceID string    `json:"deviceId"`
	Ts       time.Time `json:"ts"`
	RSSI     *int32    `json:"rssi,omitempty"`
}

// CopQuality COP 口径
type CopQuality string

const (
	CopMeasured  CopQuality = "measured"  // 基于实测电功率
	CopEstimated CopQuality = "estimated" // 基于压缩机电流估算电功率
	CopNone      CopQuality = ""          // 无法计算
)

// DerivedMetrics 派生指标，只计算不独立落库
type DerivedMetrics struct {
	DeltaT     *float64   `json:"deltaT,omitempty"`
	ThermalKW  *float64   `json:"thermalKW,omitempty"`
	COP        *float64   `json:"cop,omitempty"`
	CopQuality CopQuality `json:"copQuality,omitempty"`
}

// EnrichedSample 遥测 + 派生指标，设备 Actor 与规则引擎消费的单位
type EnrichedSample struct {
	TelemetryPayload
	Derived DerivedMetrics `json:"derived"`
}

// WindowSample 滚动窗口采样点（基线评估用）
type WindowSample struct {
	Ts       time.Time `json:"ts"`
	DeltaT   *float64  `json:"deltaT,omitempty"`
	COP      *float64  `json:"cop,omitempty"`
	CurrentA *float64  `json:"currentA,omitempty"`
}

// CommandStatus 下行指令状态
type CommandStatus string

const (
	CmdQueued      CommandStatus = "queued"
	CmdDispatching CommandStatus = "dispatching"
	CmdDispatched  CommandStatus = "dispatched"
	CmdApplied     CommandStatus = "applied"
	CmdFailed      CommandStatus = "failed"
	CmdExpired     CommandStatus = "expired"
)

// Terminal 终态指令不再变迁
func (s CommandStatus) Terminal() bool {
	return s == CmdApplied || s == CmdFailed || s == CmdExpired
}

// Command 设定值下行指令
type Command struct {
	WriteID   string        `json:"writeId"`
	DeviceID  string        `json:"deviceId"`
	SetpointC float64       `json:"setpointC"`
	Reason    string        `json:"reason,omitempty"`
	Status    CommandStatus `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	IssuedAt  time.Time     `json:"issuedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	AckedAt   *time.Time    `json:"ackedAt,omitempty"`
}

// Severity 告警级别
type Severity string

const (
	SevMinor    Severity = "minor"
	SevMajor    Severity = "major"
	SevCritical Severity = "critical"
)

// AlertState 告警生命周期状态
type AlertState string

const (
	AlertOpen         AlertState = "open"
	AlertAcknowledged AlertState = "acknowledged"
	AlertClosed       AlertState = "closed"
)

// Alert 运维告警。不变量：同一 (deviceId, type[, kind]) 最多一条 open/acknowledged
type Alert struct {
	ID       int64          `json:"id"`
	DeviceID string         `json:"deviceId"`
	Type     string         `json:"type"`
	Kind     string         `json:"kind,omitempty"` // baseline_deviation 的参数化维度
	Severity Severity       `json:"severity"`
	State    AlertState     `json:"state"`
	OpenedAt time.Time      `json:"openedAt"`
	ClosedAt *time.Time     `json:"closedAt,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// BaselineKind 基线信号维度
type BaselineKind string

const (
	BaselineDeltaT  BaselineKind = "delta_t"
	BaselineCOP     BaselineKind = "cop"
	BaselineCurrent BaselineKind = "current"
)

// Units 维度对应的物理单位
func (k BaselineKind) Units() string {
	switch k {
	case BaselineDeltaT:
		return "K"
	case BaselineCurrent:
		return "A"
	}
	return ""
}

// Baseline 设备信号的参考统计画像
type Baseline struct {
	ID        int64        `json:"id"`
	DeviceID  string       `json:"deviceId"`
	Kind      BaselineKind `json:"kind"`
	Median    float64      `json:"median"`
	P25       float64      `json:"p25"`
	P75       float64      `json:"p75"`
	Golden    bool         `json:"golden"`
	CreatedAt time.Time    `json:"createdAt"`
}

// MaintenanceScope 维护窗口作用域
type MaintenanceScope string

const (
	ScopeDevice MaintenanceScope = "device"
	ScopeSite   MaintenanceScope = "site"
	ScopeGlobal MaintenanceScope = "global"
)

// MaintenanceWindow 维护窗口：生效期间完全抑制 dwell 累计与开告警
type MaintenanceWindow struct {
	ID       int64            `json:"id"`
	Scope    MaintenanceScope `json:"scope"`
	DeviceID *string          `json:"deviceId,omitempty"`
	SiteID   *string          `json:"siteId,omitempty"`
	StartsAt time.Time        `json:"startsAt"`
	EndsAt   time.Time        `json:"endsAt"`
}

// RuleState 每 (device, rule) 的迟滞状态，只由规则引擎修改
type RuleState struct {
	DwellStartTs    *time.Time `json:"dwellStartTs,omitempty"`
	LastTriggerTs   *time.Time `json:"lastTriggerTs,omitempty"`
	CooldownUntilTs *time.Time `json:"cooldownUntilTs,omitempty"`
	Suppressed      bool       `json:"suppressed,omitempty"`
}

// Device 设备登记信息（在线位与最近心跳由核心维护）
type Device struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"deviceId"`
	SiteID     *string    `json:"siteId,omitempty"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}
