package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// Repository storage.Store 的 PostgreSQL 实现（核心热路径）
type Repository struct {
	Pool *pgxpool.Pool
}

// EnsureDevice 设备登记，phy 标识冲突时只刷新 updated_at
func (r *Repository) EnsureDevice(ctx context.Context, deviceID string) (*coremodel.Device, error) {
	const q = `INSERT INTO devices (device_id)
               VALUES ($1)
               ON CONFLICT (device_id) DO UPDATE SET updated_at = NOW()
               RETURNING id, device_id, site_id, online, last_seen_at`
	var d coremodel.Device
	err := r.Pool.QueryRow(ctx, q, deviceID).Scan(&d.ID, &d.DeviceID, &d.SiteID, &d.Online, &d.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("ensure device: %w", err)
	}
	return &d, nil
}

// MarkDeviceOnline 在线位置位，last_seen_at 只向前推进（重放旧样本不回拨）
func (r *Repository) MarkDeviceOnline(ctx context.Context, deviceID string, seenAt time.Time) error {
	const q = `UPDATE devices
               SET online = TRUE,
                   last_seen_at = GREATEST(COALESCE(last_seen_at, 'epoch'::timestamptz), $2),
                   updated_at = NOW()
               WHERE device_id = $1`
	_, err := r.Pool.Exec(ctx, q, deviceID, seenAt)
	return err
}

// SetDeviceOnline 心跳扫描翻转在线位
func (r *Repository) SetDeviceOnline(ctx context.Context, deviceID string, online bool) error {
	const q = `UPDATE devices SET online = $2, updated_at = NOW() WHERE device_id = $1`
	_, err := r.Pool.Exec(ctx, q, deviceID, online)
	return err
}

// ListDevicesForSweep 全量设备列表（心跳扫描遍历）
func (r *Repository) ListDevicesForSweep(ctx context.Context) ([]coremodel.Device, error) {
	const q = `SELECT id, device_id, site_id, online, last_seen_at FROM devices ORDER BY id`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []coremodel.Device
	for rows.Next() {
		var d coremodel.Device
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.SiteID, &d.Online, &d.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertTelemetry 追加遥测行，(device_id, ts) 冲突整行替换 —— 重投递安全
func (r *Repository) InsertTelemetry(ctx context.Context, s *coremodel.EnrichedSample) error {
	metrics, status, faults, derived, err := marshalSampleJSON(s)
	if err != nil {
		return err
	}
	const q = `INSERT INTO telemetry (device_id, ts, metrics, status, faults, derived)
               VALUES ($1,$2,$3,$4,$5,$6)
               ON CONFLICT (device_id, ts)
               DO UPDATE SET metrics=EXCLUDED.metrics, status=EXCLUDED.status,
                             faults=EXCLUDED.faults, derived=EXCLUDED.derived`
	_, err = r.Pool.Exec(ctx, q, s.DeviceID, s.Ts, metrics, status, faults, derived)
	return err
}

// UpsertLatestState 每设备单行最新状态，last-write-wins
func (r *Repository) UpsertLatestState(ctx context.Context, s *coremodel.EnrichedSample) error {
	metrics, status, faults, derived, err := marshalSampleJSON(s)
	if err != nil {
		return err
	}
	const q = `INSERT INTO latest_state (device_id, ts, metrics, status, faults, derived, updated_at)
               VALUES ($1,$2,$3,$4,$5,$6,NOW())
               ON CONFLICT (device_id)
               DO UPDATE SET ts=EXCLUDED.ts, metrics=EXCLUDED.metrics, status=EXCLUDED.status,
                             faults=EXCLUDED.faults, derived=EXCLUDED.derived, updated_at=NOW()`
	_, err = r.Pool.Exec(ctx, q, s.DeviceID, s.Ts, metrics, status, faults, derived)
	return err
}

// RecordHeartbeat 追加心跳行，(device_id, ts) 冲突幂等覆盖
func (r *Repository) RecordHeartbeat(ctx context.Context, hb *coremodel.HeartbeatPayload) error {
	const q = `INSERT INTO heartbeats (device_id, ts, rssi)
               VALUES ($1,$2,$3)
               ON CONFLICT (device_id, ts) DO UPDATE SET rssi = EXCLUDED.rssi`
	_, err := r.Pool.Exec(ctx, q, hb.DeviceID, hb.Ts, hb.RSSI)
	return err
}

// FindOpenAlert 查当前 open/acknowledged 告警
func (r *Repository) FindOpenAlert(ctx context.Context, deviceID, typ, kind string) (*coremodel.Alert, error) {
	const q = `SELECT id, device_id, type, kind, severity, state, opened_at, closed_at, meta
               FROM alerts
               WHERE device_id=$1 AND type=$2 AND kind=$3 AND state IN ('open','acknowledged')
               ORDER BY opened_at DESC LIMIT 1`
	var a coremodel.Alert
	var meta []byte
	err := r.Pool.QueryRow(ctx, q, deviceID, typ, kind).
		Scan(&a.ID, &a.DeviceID, &a.Type, &a.Kind, &a.Severity, &a.State, &a.OpenedAt, &a.ClosedAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &a.Meta)
	}
	return &a, nil
}

// InsertAlert 落一条新告警
func (r *Repository) InsertAlert(ctx context.Context, a *coremodel.Alert) (int64, error) {
	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return 0, fmt.Errorf("marshal alert meta: %w", err)
	}
	const q = `INSERT INTO alerts (device_id, type, kind, severity, state, opened_at, meta)
               VALUES ($1,$2,$3,$4,$5,$6,$7)
               RETURNING id`
	var id int64
	err = r.Pool.QueryRow(ctx, q, a.DeviceID, a.Type, a.Kind, a.Severity, a.State, a.OpenedAt, meta).Scan(&id)
	return id, err
}

// PatchAlert 原地更新级别与 meta（不插重复行）
func (r *Repository) PatchAlert(ctx context.Context, id int64, sev coremodel.Severity, meta map[string]any) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal alert meta: %w", err)
	}
	const q = `UPDATE alerts SET severity=$2, meta=$3 WHERE id=$1`
	_, err = r.Pool.Exec(ctx, q, id, sev, b)
	return err
}

// CloseAlert 关闭并盖时间戳
func (r *Repository) CloseAlert(ctx context.Context, id int64, closedAt time.Time) error {
	const q = `UPDATE alerts SET state='closed', closed_at=$2 WHERE id=$1 AND state IN ('open','acknowledged')`
	_, err := r.Pool.Exec(ctx, q, id, closedAt)
	return err
}

// LoadRuleStates 读取设备全部规则状态
func (r *Repository) LoadRuleStates(ctx context.Context, deviceID string) (map[string]coremodel.RuleState, error) {
	const q = `SELECT rule_key, dwell_start_ts, last_trigger_ts, cooldown_until_ts, suppressed
               FROM alert_state WHERE device_id=$1`
	rows, err := r.Pool.Query(ctx, q, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]coremodel.RuleState)
	for rows.Next() {
		var key string
		var st coremodel.RuleState
		if err := rows.Scan(&key, &st.DwellStartTs, &st.LastTriggerTs, &st.CooldownUntilTs, &st.Suppressed); err != nil {
			return nil, err
		}
		out[key] = st
	}
	return out, rows.Err()
}

// SaveRuleState 写穿单条规则状态
func (r *Repository) SaveRuleState(ctx context.Context, deviceID, ruleKey string, st coremodel.RuleState) error {
	const q = `INSERT INTO alert_state (device_id, rule_key, dwell_start_ts, last_trigger_ts, cooldown_until_ts, suppressed, updated_at)
               VALUES ($1,$2,$3,$4,$5,$6,NOW())
               ON CONFLICT (device_id, rule_key)
               DO UPDATE SET dwell_start_ts=EXCLUDED.dwell_start_ts,
                             last_trigger_ts=EXCLUDED.last_trigger_ts,
                             cooldown_until_ts=EXCLUDED.cooldown_until_ts,
                             suppressed=EXCLUDED.suppressed,
                             updated_at=NOW()`
	_, err := r.Pool.Exec(ctx, q, deviceID, ruleKey, st.DwellStartTs, st.LastTriggerTs, st.CooldownUntilTs, st.Suppressed)
	return err
}

// BestBaseline golden 优先，其次最新
func (r *Repository) BestBaseline(ctx context.Context, deviceID string, kind coremodel.BaselineKind) (*coremodel.Baseline, error) {
	const q = `SELECT id, device_id, kind, median, p25, p75, golden, created_at
               FROM device_baselines
               WHERE device_id=$1 AND kind=$2
               ORDER BY golden DESC, created_at DESC
               LIMIT 1`
	var b coremodel.Baseline
	err := r.Pool.QueryRow(ctx, q, deviceID, kind).
		Scan(&b.ID, &b.DeviceID, &b.Kind, &b.Median, &b.P25, &b.P75, &b.Golden, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InMaintenance 任一作用域（设备/站点/全局）窗口生效即为真
func (r *Repository) InMaintenance(ctx context.Context, deviceID string, siteID *string, now time.Time) (bool, error) {
	const q = `SELECT EXISTS (
                 SELECT 1 FROM maintenance_windows
                 WHERE starts_at <= $3 AND ends_at > $3
                   AND (   (scope = 'global')
                        OR (scope = 'device' AND device_id = $1)
                        OR (scope = 'site'   AND site_id   = $2))
               )`
	var active bool
	err := r.Pool.QueryRow(ctx, q, deviceID, siteID, now).Scan(&active)
	return active, err
}

// InsertWriteAudit 指令审计入队行，write_id 冲突幂等覆盖
func (r *Repository) InsertWriteAudit(ctx context.Context, cmd *coremodel.Command) error {
	const q = `INSERT INTO writes (write_id, device_id, setpoint_c, reason, status, detail, issued_at, expires_at)
               VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
               ON CONFLICT (write_id)
               DO UPDATE SET status=EXCLUDED.status, detail=EXCLUDED.detail`
	_, err := r.Pool.Exec(ctx, q,
		cmd.WriteID, cmd.DeviceID, cmd.SetpointC, cmd.Reason, cmd.Status, cmd.Detail, cmd.IssuedAt, cmd.ExpiresAt)
	return err
}

// UpdateWriteAudit 指令状态变迁审计
func (r *Repository) UpdateWriteAudit(ctx context.Context, writeID string, status coremodel.CommandStatus, detail string, at time.Time) error {
	const q = `UPDATE writes SET status=$2, detail=$3, acked_at=$4 WHERE write_id=$1`
	_, err := r.Pool.Exec(ctx, q, writeID, status, detail, at)
	return err
}

// InsertOpsMetric 摄取处理指标；失败由调用方决定是否吞掉
func (r *Repository) InsertOpsMetric(ctx context.Context, route, status, deviceID string, duration time.Duration) error {
	const q = `INSERT INTO ops_metrics (route, status, device_id, duration_ms)
               VALUES ($1,$2,$3,$4)`
	_, err := r.Pool.Exec(ctx, q, route, status, deviceID, duration.Milliseconds())
	return err
}

func marshalSampleJSON(s *coremodel.EnrichedSample) (metrics, status, faults, derived []byte, err error) {
	if metrics, err = json.Marshal(s.Metrics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal metrics: %w", err)
	}
	if s.Status != nil {
		if status, err = json.Marshal(s.Status); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal status: %w", err)
		}
	}
	if len(s.Faults) > 0 {
		if faults, err = json.Marshal(s.Faults); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal faults: %w", err)
		}
	}
	if derived, err = json.Marshal(s.Derived); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal derived: %w", err)
	}
	return metrics, status, faults, derived, nil
}
