package alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/actor"
	"github.com/thermline/hpfleet/internal/baseline"
	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/metrics"
	"github.com/thermline/hpfleet/internal/storage"
)

// condition 单条规则在本轮评估中的快照：
// 规则触发与否、开告警时的级别与 meta、以及迟滞参数
type condition struct {
	key             string // alert_state.rule_key
	typ             string // alerts.type
	kind            string // 参数化维度（基线规则用），其余为空
	active          bool
	severity        coremodel.Severity
	dwell           time.Duration
	cooldown        time.Duration
	suppressOffline bool
	meta            map[string]any
}

// Notifier 告警事件外发钩子（可选，失败不影响告警主链路）
type Notifier interface {
	AlertOpened(ctx context.Context, a *coremodel.Alert)
	AlertClosed(ctx context.Context, a *coremodel.Alert)
}

// Engine 告警规则引擎。
// 同设备的所有评估（遥测触发 + 心跳扫描）统一路由进该设备的 Actor
// 串行执行，RuleState 的读-改-写因此天然无竞争。
type Engine struct {
	store    storage.Store
	actors   *actor.Registry
	cfg      Config
	m        *metrics.AppMetrics
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
}

// SetNotifier 注入告警外发钩子
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

func NewEngine(store storage.Store, actors *actor.Registry, cfg Config, m *metrics.AppMetrics, log *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		actors: actors,
		cfg:    cfg,
		m:      m,
		log:    log,
		now:    time.Now,
	}
}

// EvaluateSample 对一条遥测样本跑完整规则组。
// 在设备 Actor 内执行：短周期切换缓冲的变更会随快照持久化。
func (e *Engine) EvaluateSample(ctx context.Context, dev *coremodel.Device, sample *coremodel.EnrichedSample) error {
	a := e.actors.Get(dev.DeviceID)
	return a.Do(ctx, func(s *actor.Snapshot) (bool, error) {
		now := e.now()
		dirty := e.trackCompressorToggle(s, sample, now)

		conds := e.sampleConditions(ctx, dev, sample, s, now)
		e.runBattery(ctx, dev, conds, now)
		return dirty, nil
	})
}

// SweepDevice 心跳扫描对单设备评估两条离线规则（同样经 Actor 串行化）。
// 返回扫描判定的在线位，由调用方负责落库翻转。
func (e *Engine) SweepDevice(ctx context.Context, dev *coremodel.Device, now time.Time) (bool, error) {
	var online bool
	a := e.actors.Get(dev.DeviceID)
	err := a.Do(ctx, func(_ *actor.Snapshot) (bool, error) {
		var age time.Duration
		if dev.LastSeenAt != nil {
			age = now.Sub(*dev.LastSeenAt)
		} else {
			// 从未上报过：视为超过临界阈值
			age = time.Duration(e.cfg.Heartbeat.CritAfterSec+1) * time.Second
		}
		online = age < time.Duration(e.cfg.Heartbeat.WarnAfterSec)*time.Second

		hb := e.cfg.Heartbeat
		conds := []condition{
			{
				key:      RuleHeartbeatWarn,
				typ:      RuleHeartbeatWarn,
				active:   age >= time.Duration(hb.WarnAfterSec)*time.Second,
				severity: coremodel.SevMajor,
				cooldown: time.Duration(hb.WarnCooldownSec) * time.Second,
				meta:     map[string]any{"lastSeenAgeSec": int64(age.Seconds())},
			},
			{
				key:      RuleHeartbeatCrit,
				typ:      RuleHeartbeatCrit,
				active:   age >= time.Duration(hb.CritAfterSec)*time.Second,
				severity: coremodel.SevCritical,
				cooldown: time.Duration(hb.CritCooldownSec) * time.Second,
				meta:     map[string]any{"lastSeenAgeSec": int64(age.Seconds())},
			},
		}
		e.runBattery(ctx, dev, conds, now)
		return false, nil
	})
	return online, err
}

// trackCompressorToggle 维护短周期切换时间戳缓冲，返回快照是否变更。
// 切换点按样本 Ts 去重：乱序重投递把旧样本再送一遍时不得二次计数
func (e *Engine) trackCompressorToggle(s *actor.Snapshot, sample *coremodel.EnrichedSample, now time.Time) bool {
	on := sample.Metrics.CompressorOn()
	dirty := false

	if s.LastCompressorOn != nil && *s.LastCompressorOn != on && !hasToggleAt(s.Toggles, sample.Ts) {
		s.Toggles = append(s.Toggles, sample.Ts)
		dirty = true
	}
	if s.LastCompressorOn == nil || *s.LastCompressorOn != on {
		v := on
		s.LastCompressorOn = &v
		dirty = true
	}

	// 只保留尾窗内的切换点
	window := time.Duration(e.cfg.ShortCycling.WindowSec) * time.Second
	horizon := now.Add(-window)
	kept := s.Toggles[:0]
	for _, ts := range s.Toggles {
		if ts.After(horizon) {
			kept = append(kept, ts)
		}
	}
	if len(kept) != len(s.Toggles) {
		dirty = true
	}
	s.Toggles = kept
	return dirty
}

func hasToggleAt(toggles []time.Time, ts time.Time) bool {
	for _, t := range toggles {
		if t.Equal(ts) {
			return true
		}
	}
	return false
}

// sampleConditions 遥测驱动的规则组
func (e *Engine) sampleConditions(ctx context.Context, dev *coremodel.Device, sample *coremodel.EnrichedSample, s *actor.Snapshot, now time.Time) []condition {
	m := sample.Metrics
	conds := make([]condition, 0, 7)

	conds = append(conds, condition{
		key:      RuleOverheat,
		typ:      RuleOverheat,
		active:   m.SupplyC != nil && *m.SupplyC >= e.cfg.Overheat.SupplyMaxC,
		severity: coremodel.SevCritical,
		dwell:    time.Duration(e.cfg.Overheat.DwellSec) * time.Second,
		cooldown: time.Duration(e.cfg.Overheat.CooldownSec) * time.Second,
		meta:     metaFloat("supplyC", m.SupplyC),
	})

	conds = append(conds, condition{
		key:             RuleLowFlow,
		typ:             RuleLowFlow,
		active:          m.CompressorOn() && m.FlowLMin != nil && *m.FlowLMin < e.cfg.LowFlow.FloorLMin && dev.Online,
		severity:        coremodel.SevMajor,
		dwell:           time.Duration(e.cfg.LowFlow.DwellSec) * time.Second,
		cooldown:        time.Duration(e.cfg.LowFlow.CooldownSec) * time.Second,
		suppressOffline: true,
		meta:            metaFloat("flowLMin", m.FlowLMin),
	})

	conds = append(conds, condition{
		key: RuleLowCOP,
		typ: RuleLowCOP,
		active: sample.Derived.COP != nil && *sample.Derived.COP < e.cfg.LowCOP.FloorCOP &&
			m.PowerKW != nil && *m.PowerKW >= e.cfg.LowCOP.MinPowerKW,
		severity:        coremodel.SevMinor,
		dwell:           time.Duration(e.cfg.LowCOP.DwellSec) * time.Second,
		cooldown:        time.Duration(e.cfg.LowCOP.CooldownSec) * time.Second,
		suppressOffline: true,
		meta:            metaFloat("cop", sample.Derived.COP),
	})

	conds = append(conds, condition{
		key:      RuleShortCycling,
		typ:      RuleShortCycling,
		active:   len(s.Toggles) >= e.cfg.ShortCycling.MinToggles,
		severity: coremodel.SevMajor,
		dwell:    0,
		cooldown: time.Duration(e.cfg.ShortCycling.CooldownSec) * time.Second,
		meta: map[string]any{
			"toggleCount": len(s.Toggles),
			"windowSec":   e.cfg.ShortCycling.WindowSec,
		},
	})

	conds = append(conds, e.baselineConditions(ctx, dev, s)...)
	return conds
}

// baselineConditions 基线偏离规则：每个维度一条参数化规则。
// no_data（无基线或空窗口）既不触发也不走关闭路径，直接跳过。
func (e *Engine) baselineConditions(ctx context.Context, dev *coremodel.Device, s *actor.Snapshot) []condition {
	kinds := []coremodel.BaselineKind{coremodel.BaselineDeltaT, coremodel.BaselineCOP, coremodel.BaselineCurrent}
	conds := make([]condition, 0, len(kinds))

	for _, kind := range kinds {
		th, ok := e.cfg.Baseline.Kinds[string(kind)]
		if !ok {
			continue
		}
		key := RuleBaseline + ":" + string(kind)

		b, err := e.store.BestBaseline(ctx, dev.DeviceID, kind)
		if err != nil {
			e.m.RuleEvalErrors.WithLabelValues(key).Inc()
			e.log.Warn("baseline fetch failed",
				zap.String("device_id", dev.DeviceID), zap.String("kind", string(kind)), zap.Error(err))
			continue
		}

		res := baseline.Evaluate(kind, s.WindowValues(kind), b, th)
		if res.Class == baseline.ClassNoData {
			continue
		}

		sev := coremodel.SevMinor
		if res.Class == baseline.ClassCrit {
			sev = coremodel.SevMajor
		}
		conds = append(conds, condition{
			key:             key,
			typ:             RuleBaseline,
			kind:            string(kind),
			active:          res.Class != baseline.ClassOK,
			severity:        sev,
			dwell:           time.Duration(th.DwellSec) * time.Second,
			cooldown:        time.Duration(e.cfg.Baseline.CooldownSec) * time.Second,
			suppressOffline: true,
			meta: map[string]any{
				"kind":     string(kind),
				"coverage": round3(res.Coverage),
				"drift":    round3(res.Drift),
				"units":    res.Units,
				"samples":  res.Samples,
			},
		})
	}
	return conds
}

// runBattery 规则隔离地跑一组条件：单条失败计数并记日志，不影响其余规则
func (e *Engine) runBattery(ctx context.Context, dev *coremodel.Device, conds []condition, now time.Time) {
	states, err := e.store.LoadRuleStates(ctx, dev.DeviceID)
	if err != nil {
		// 状态加载失败整轮放弃：用空状态评估会错误地重置 dwell
		e.m.RuleEvalErrors.WithLabelValues("_load_state").Inc()
		e.log.Error("rule state load failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
		return
	}

	maint, err := e.store.InMaintenance(ctx, dev.DeviceID, dev.SiteID, now)
	if err != nil {
		e.m.RuleEvalErrors.WithLabelValues("_maintenance").Inc()
		e.log.Warn("maintenance lookup failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
		// 查询失败按未在维护处理，宁可多报不漏报
		maint = false
	}

	for _, c := range conds {
		st := states[c.key]
		suppressed := maint || (c.suppressOffline && !dev.Online)

		changed, err := e.step(ctx, dev, c, &st, suppressed, now)
		if err != nil {
			e.m.RuleEvalErrors.WithLabelValues(c.key).Inc()
			e.log.Error("rule evaluation failed",
				zap.String("device_id", dev.DeviceID), zap.String("rule", c.key), zap.Error(err))
			continue
		}
		if changed {
			if err := e.store.SaveRuleState(ctx, dev.DeviceID, c.key, st); err != nil {
				e.m.RuleEvalErrors.WithLabelValues(c.key).Inc()
				e.log.Error("rule state save failed",
					zap.String("device_id", dev.DeviceID), zap.String("rule", c.key), zap.Error(err))
			}
		}
	}
}

// step 状态机单步：{idle, dwelling, open, cooldown} + 强制抑制。
// open/cooldown 以告警行和 cooldownUntilTs 表达，不单独存枚举。
func (e *Engine) step(ctx context.Context, dev *coremodel.Device, c condition, st *coremodel.RuleState, suppressed bool, now time.Time) (bool, error) {
	if suppressed {
		// 强制回 idle：清空 dwell/lastTrigger 并阻断开告警。
		// 已 open 的告警保持不动，待解除抑制后按条件走正常关闭
		changed := st.DwellStartTs != nil || st.LastTriggerTs != nil || !st.Suppressed
		st.DwellStartTs = nil
		st.LastTriggerTs = nil
		st.Suppressed = true
		return changed, nil
	}

	changed := st.Suppressed
	st.Suppressed = false

	if !c.active {
		// 条件清除：dwelling → idle，或 open → cooldown
		if st.DwellStartTs != nil || st.LastTriggerTs != nil {
			st.DwellStartTs = nil
			st.LastTriggerTs = nil
			changed = true
		}
		open, err := e.store.FindOpenAlert(ctx, dev.DeviceID, c.typ, c.kind)
		if err != nil {
			return changed, fmt.Errorf("find open alert: %w", err)
		}
		if open != nil {
			if err := e.store.CloseAlert(ctx, open.ID, now); err != nil {
				return changed, fmt.Errorf("close alert: %w", err)
			}
			until := now.Add(c.cooldown)
			st.CooldownUntilTs = &until
			e.m.AlertClosed.WithLabelValues(c.key).Inc()
			e.log.Info("alert closed",
				zap.String("device_id", dev.DeviceID), zap.String("rule", c.key), zap.Int64("alert_id", open.ID))
			if e.notifier != nil {
				closed := *open
				closed.State = coremodel.AlertClosed
				closed.ClosedAt = &now
				e.notifier.AlertClosed(ctx, &closed)
			}
			return true, nil
		}
		return changed, nil
	}

	// 条件成立：dwell 从首次观测起累计（cooldown 期间照常累计，只拦截开告警）
	if st.DwellStartTs == nil {
		ts := now
		st.DwellStartTs = &ts
		changed = true
	}
	st.LastTriggerTs = &now
	changed = true

	if now.Sub(*st.DwellStartTs) < c.dwell {
		return changed, nil
	}
	if st.CooldownUntilTs != nil && !now.After(*st.CooldownUntilTs) {
		// 防抖：冷却期内满足 dwell 也不开
		return changed, nil
	}

	// 开告警前复核单开不变量；已 open 则原地补丁（基线规则级别会漂移）
	open, err := e.store.FindOpenAlert(ctx, dev.DeviceID, c.typ, c.kind)
	if err != nil {
		return changed, fmt.Errorf("find open alert: %w", err)
	}
	if open != nil {
		if open.Severity != c.severity || c.meta != nil {
			if err := e.store.PatchAlert(ctx, open.ID, c.severity, c.meta); err != nil {
				return changed, fmt.Errorf("patch alert: %w", err)
			}
		}
		return changed, nil
	}

	fresh := &coremodel.Alert{
		DeviceID: dev.DeviceID,
		Type:     c.typ,
		Kind:     c.kind,
		Severity: c.severity,
		State:    coremodel.AlertOpen,
		OpenedAt: now,
		Meta:     c.meta,
	}
	id, err := e.store.InsertAlert(ctx, fresh)
	if err != nil {
		return changed, fmt.Errorf("insert alert: %w", err)
	}
	fresh.ID = id
	e.m.AlertOpened.WithLabelValues(c.key).Inc()
	e.log.Warn("alert opened",
		zap.String("device_id", dev.DeviceID),
		zap.String("rule", c.key),
		zap.String("severity", string(c.severity)),
		zap.Int64("alert_id", id))
	if e.notifier != nil {
		e.notifier.AlertOpened(ctx, fresh)
	}
	return true, nil
}

func metaFloat(key string, v *float64) map[string]any {
	if v == nil {
		return nil
	}
	return map[string]any{key: round3(*v)}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
