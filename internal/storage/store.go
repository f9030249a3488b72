package storage

import (
	"context"
	"time"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// Store 面向核心链路的存储抽象。
// 约束：
// - 上层不直接写 SQL，统一通过本接口访问
// - 所有写入必须在重投递/乱序下幂等（upsert/replace 语义）
// - 接口保持 DB-agnostic（面向领域模型与基础类型）
type Store interface {
	// ---------- 设备 ----------
	// EnsureDevice 若设备不存在则登记，返回设备记录
	EnsureDevice(ctx context.Context, deviceID string) (*coremodel.Device, error)
	// MarkDeviceOnline 置在线并刷新 last_seen_at（只向前推进，不回拨）
	MarkDeviceOnline(ctx context.Context, deviceID string, seenAt time.Time) error
	// SetDeviceOnline 由心跳扫描翻转在线位
	SetDeviceOnline(ctx context.Context, deviceID string, online bool) error
	// ListDevicesForSweep 全量设备（心跳扫描遍历用）
	ListDevicesForSweep(ctx context.Context) ([]coremodel.Device, error)

	// ---------- 遥测 ----------
	// InsertTelemetry 追加遥测行，(device_id, ts) 冲突时整行替换
	InsertTelemetry(ctx context.Context, s *coremodel.EnrichedSample) error
	// UpsertLatestState 每设备单行最新状态，last-write-wins
	UpsertLatestState(ctx context.Context, s *coremodel.EnrichedSample) error
	// RecordHeartbeat 追加心跳行
	RecordHeartbeat(ctx context.Context, hb *coremodel.HeartbeatPayload) error

	// ---------- 告警 ----------
	// FindOpenAlert 查 (device, type, kind) 当前 open/acknowledged 告警，无则返回 nil
	FindOpenAlert(ctx context.Context, deviceID, typ, kind string) (*coremodel.Alert, error)
	// InsertAlert 落一条新 open 告警，返回 ID
	InsertAlert(ctx context.Context, a *coremodel.Alert) (int64, error)
	// PatchAlert 原地更新已 open 告警的级别与 meta（单开不变量的去重路径）
	PatchAlert(ctx context.Context, id int64, sev coremodel.Severity, meta map[string]any) error
	// CloseAlert 关闭告警并盖 closed_at
	CloseAlert(ctx context.Context, id int64, closedAt time.Time) error

	// ---------- 规则状态 ----------
	// LoadRuleStates 读取设备全部 (rule_key -> RuleState)
	LoadRuleStates(ctx context.Context, deviceID string) (map[string]coremodel.RuleState, error)
	// SaveRuleState 写穿单条规则状态
	SaveRuleState(ctx context.Context, deviceID, ruleKey string, st coremodel.RuleState) error

	// ---------- 基线 ----------
	// BestBaseline 取 (device, kind) 最优基线：golden 优先，其次最新；无则 nil
	BestBaseline(ctx context.Context, deviceID string, kind coremodel.BaselineKind) (*coremodel.Baseline, error)

	// ---------- 维护窗口 ----------
	// InMaintenance 设备/站点/全局任一作用域窗口生效即为真
	InMaintenance(ctx context.Context, deviceID string, siteID *string, now time.Time) (bool, error)

	// ---------- 指令审计 ----------
	// InsertWriteAudit 指令入队审计行（write_id 冲突幂等覆盖状态）
	InsertWriteAudit(ctx context.Context, cmd *coremodel.Command) error
	// UpdateWriteAudit 指令状态变迁审计
	UpdateWriteAudit(ctx context.Context, writeID string, status coremodel.CommandStatus, detail string, at time.Time) error

	// ---------- 处理指标 ----------
	// InsertOpsMetric 摄取链路处理指标；调用方可吞掉错误
	InsertOpsMetric(ctx context.Context, route, status, deviceID string, duration time.Duration) error
}
