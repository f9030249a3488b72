package models

import (
	"encoding/json"
	"time"
)

// 注意：
// - 保持与 db/migrations/0001_init.sql 完全对齐
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// Device 映射 devices 表
type Device struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeviceID   string     `gorm:"column:device_id;type:text;not null;uniqueIndex" json:"deviceId"`
	SiteID     *string    `gorm:"column:site_id;type:text" json:"siteId,omitempty"`
	Online     bool       `gorm:"column:online;not null;default:false" json:"online"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Device) TableName() string { return "devices" }

// Telemetry 映射 telemetry 表（复合主键：device_id + ts，append-only）
type Telemetry struct {
	DeviceID string         `gorm:"column:device_id;primaryKey;type:text" json:"deviceId"`
	Ts       time.Time      `gorm:"column:ts;primaryKey" json:"ts"`
	Metrics  json.RawMessage `gorm:"column:metrics" json:"metrics"`
	Status   json.RawMessage `gorm:"column:status" json:"status,omitempty"`
	Faults   json.RawMessage `gorm:"column:faults" json:"faults,omitempty"`
	Derived  json.RawMessage `gorm:"column:derived" json:"derived"`
}

func (Telemetry) TableName() string { return "telemetry" }

// LatestState 映射 latest_state 表（每设备单行）
type LatestState struct {
	DeviceID  string         `gorm:"column:device_id;primaryKey;type:text" json:"deviceId"`
	Ts        time.Time      `gorm:"column:ts;not null" json:"ts"`
	Metrics   json.RawMessage `gorm:"column:metrics" json:"metrics"`
	Status    json.RawMessage `gorm:"column:status" json:"status,omitempty"`
	Faults    json.RawMessage `gorm:"column:faults" json:"faults,omitempty"`
	Derived   json.RawMessage `gorm:"column:derived" json:"derived"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (LatestState) TableName() string { return "latest_state" }

// Alert 映射 alerts 表
type Alert struct {
	ID       int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeviceID string         `gorm:"column:device_id;type:text;not null;index:idx_alerts_device" json:"deviceId"`
	Type     string         `gorm:"column:type;type:text;not null" json:"type"`
	Kind     string         `gorm:"column:kind;type:text;not null;default:''" json:"kind,omitempty"`
	Severity string         `gorm:"column:severity;type:text;not null" json:"severity"`
	State    string         `gorm:"column:state;type:text;not null;index:idx_alerts_state" json:"state"`
	OpenedAt time.Time      `gorm:"column:opened_at;not null" json:"openedAt"`
	ClosedAt *time.Time     `gorm:"column:closed_at" json:"closedAt,omitempty"`
	Meta     json.RawMessage `gorm:"column:meta" json:"meta,omitempty"`
}

func (Alert) TableName() string { return "alerts" }

// AlertState 映射 alert_state 表（复合主键：device_id + rule_key）
type AlertState struct {
	DeviceID        string     `gorm:"column:device_id;primaryKey;type:text" json:"deviceId"`
	RuleKey         string     `gorm:"column:rule_key;primaryKey;type:text" json:"ruleKey"`
	DwellStartTs    *time.Time `gorm:"column:dwell_start_ts" json:"dwellStartTs,omitempty"`
	LastTriggerTs   *time.Time `gorm:"column:last_trigger_ts" json:"lastTriggerTs,omitempty"`
	CooldownUntilTs *time.Time `gorm:"column:cooldown_until_ts" json:"cooldownUntilTs,omitempty"`
	Suppressed      bool       `gorm:"column:suppressed;not null;default:false" json:"suppressed"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (AlertState) TableName() string { return "alert_state" }

// DeviceBaseline 映射 device_baselines 表
type DeviceBaseline struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeviceID  string    `gorm:"column:device_id;type:text;not null;index:idx_baselines_device_kind,priority:1" json:"deviceId"`
	Kind      string    `gorm:"column:kind;type:text;not null;index:idx_baselines_device_kind,priority:2" json:"kind"`
	Median    float64   `gorm:"column:median;not null" json:"median"`
	P25       float64   `gorm:"column:p25;not null" json:"p25"`
	P75       float64   `gorm:"column:p75;not null" json:"p75"`
	Golden    bool      `gorm:"column:golden;not null;default:false" json:"golden"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (DeviceBaseline) TableName() string { return "device_baselines" }

// MaintenanceWindow 映射 maintenance_windows 表
type MaintenanceWindow struct {
	ID       int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Scope    string    `gorm:"column:scope;type:text;not null" json:"scope"`
	DeviceID *string   `gorm:"column:device_id;type:text" json:"deviceId,omitempty"`
	SiteID   *string   `gorm:"column:site_id;type:text" json:"siteId,omitempty"`
	StartsAt time.Time `gorm:"column:starts_at;not null" json:"startsAt"`
	EndsAt   time.Time `gorm:"column:ends_at;not null" json:"endsAt"`
}

func (MaintenanceWindow) TableName() string { return "maintenance_windows" }

// Write 映射 writes 表（指令审计）
type Write struct {
	WriteID   string     `gorm:"column:write_id;primaryKey;type:text" json:"writeId"`
	DeviceID  string     `gorm:"column:device_id;type:text;not null;index:idx_writes_device" json:"deviceId"`
	SetpointC float64    `gorm:"column:setpoint_c;not null" json:"setpointC"`
	Reason    string     `gorm:"column:reason;type:text" json:"reason,omitempty"`
	Status    string     `gorm:"column:status;type:text;not null" json:"status"`
	Detail    string     `gorm:"column:detail;type:text" json:"detail,omitempty"`
	IssuedAt  time.Time  `gorm:"column:issued_at;not null" json:"issuedAt"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expiresAt"`
	AckedAt   *time.Time `gorm:"column:acked_at" json:"ackedAt,omitempty"`
}

func (Write) TableName() string { return "writes" }

// OpsMetric 映射 ops_metrics 表
type OpsMetric struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Route      string    `gorm:"column:route;type:text;not null" json:"route"`
	Status     string    `gorm:"column:status;type:text;not null" json:"status"`
	DeviceID   string    `gorm:"column:device_id;type:text" json:"deviceId"`
	DurationMs int64     `gorm:"column:duration_ms;not null" json:"durationMs"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OpsMetric) TableName() string { return "ops_metrics" }
