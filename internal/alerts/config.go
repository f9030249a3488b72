// Package alerts 告警规则引擎：每 (设备, 规则) 的 dwell/cooldown/抑制状态机，
// 固定规则组 + 基线偏离规则 + 周期心跳扫描。
package alerts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thermline/hpfleet/internal/baseline"
)

// 规则 key（alert_state.rule_key / alerts.type）
const (
	RuleOverheat      = "overheat"
	RuleLowFlow       = "low_flow"
	RuleLowCOP        = "low_cop"
	RuleShortCycling  = "short_cycling"
	RuleHeartbeatWarn = "heartbeat_warn"
	RuleHeartbeatCrit = "heartbeat_crit"
	RuleBaseline      = "baseline_deviation" // 参数化：baseline_deviation:<kind>
)

// OverheatRule 出水过温
type OverheatRule struct {
	SupplyMaxC  float64 `yaml:"supplyMaxC"`
	DwellSec    int     `yaml:"dwellSec"`
	CooldownSec int     `yaml:"cooldownSec"`
}

// LowFlowRule 负载下低流量
type LowFlowRule struct {
	FloorLMin   float64 `yaml:"floorLMin"`
	DwellSec    int     `yaml:"dwellSec"`
	CooldownSec int     `yaml:"cooldownSec"`
}

// LowCOPRule 低能效
type LowCOPRule struct {
	FloorCOP    float64 `yaml:"floorCop"`
	MinPowerKW  float64 `yaml:"minPowerKW"`
	DwellSec    int     `yaml:"dwellSec"`
	CooldownSec int     `yaml:"cooldownSec"`
}

// ShortCyclingRule 压缩机短周期
type ShortCyclingRule struct {
	WindowSec   int `yaml:"windowSec"`
	MinToggles  int `yaml:"minToggles"`
	CooldownSec int `yaml:"cooldownSec"`
}

// HeartbeatRule 心跳离线（扫描驱动，零 dwell）
type HeartbeatRule struct {
	WarnAfterSec     int `yaml:"warnAfterSec"`
	CritAfterSec     int `yaml:"critAfterSec"`
	WarnCooldownSec  int `yaml:"warnCooldownSec"`
	CritCooldownSec  int `yaml:"critCooldownSec"`
}

// BaselineRule 基线偏离（各维度独立阈值，共用 cooldown）
type BaselineRule struct {
	CooldownSec int                            `yaml:"cooldownSec"`
	Kinds       map[string]baseline.Thresholds `yaml:"kinds"`
}

// Config 规则引擎全量配置。阈值类全局状态收敛到这里，注入引擎
type Config struct {
	Overheat     OverheatRule     `yaml:"overheat"`
	LowFlow      LowFlowRule      `yaml:"lowFlow"`
	LowCOP       LowCOPRule       `yaml:"lowCop"`
	ShortCycling ShortCyclingRule `yaml:"shortCycling"`
	Heartbeat    HeartbeatRule    `yaml:"heartbeat"`
	Baseline     BaselineRule     `yaml:"baseline"`
}

// Default 编译期默认阈值，rules.yaml 覆盖
func Default() Config {
	return Config{
		Overheat: OverheatRule{
			SupplyMaxC:  60.0,
			DwellSec:    120,
			CooldownSec: 300,
		},
		LowFlow: LowFlowRule{
			FloorLMin:   6.0,
			DwellSec:    90,
			CooldownSec: 300,
		},
		LowCOP: LowCOPRule{
			FloorCOP:    1.5,
			MinPowerKW:  0.5,
			DwellSec:    600,
			CooldownSec: 900,
		},
		ShortCycling: ShortCyclingRule{
			WindowSec:   600,
			MinToggles:  3,
			CooldownSec: 900,
		},
		Heartbeat: HeartbeatRule{
			WarnAfterSec:    300,
			CritAfterSec:    1200,
			WarnCooldownSec: 300,
			CritCooldownSec: 600,
		},
		Baseline: BaselineRule{
			CooldownSec: 900,
			Kinds: map[string]baseline.Thresholds{
				"delta_t": {CoverageWarn: 0.5, CoverageCrit: 0.25, DriftWarn: 2.0, DriftCrit: 4.0, DwellSec: 600},
				"cop":     {CoverageWarn: 0.5, CoverageCrit: 0.25, DriftWarn: 0.5, DriftCrit: 1.0, DwellSec: 600},
				"current": {CoverageWarn: 0.5, CoverageCrit: 0.25, DriftWarn: 2.0, DriftCrit: 4.0, DwellSec: 600},
			},
		},
	}
}

// Load 默认值之上叠加 YAML 文件（path 为空则纯默认）
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return cfg, nil
}
