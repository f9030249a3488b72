// Package ingest 遥测/心跳队列消费：清洗、派生计算、落库、转发 Actor 与规则引擎。
// 所有写入幂等，at-least-once 重投递与乱序下安全。
package ingest

import (
	"math"
	"strings"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// Sanitize 防御性清洗：
// - 非有限数（NaN/±Inf）字段置缺失，不拒绝整条消息
// - 故障码为空的故障项、键为空的标志组直接丢弃
func Sanitize(p *coremodel.TelemetryPayload) {
	m := &p.Metrics
	m.SupplyC = finiteOrNil(m.SupplyC)
	m.ReturnC = finiteOrNil(m.ReturnC)
	m.TankC = finiteOrNil(m.TankC)
	m.AmbientC = finiteOrNil(m.AmbientC)
	m.FlowLMin = finiteOrNil(m.FlowLMin)
	m.CompressorA = finiteOrNil(m.CompressorA)
	m.PowerKW = finiteOrNil(m.PowerKW)

	if len(p.Faults) > 0 {
		kept := p.Faults[:0]
		for _, f := range p.Faults {
			if strings.TrimSpace(f.Code) == "" {
				continue
			}
			kept = append(kept, f)
		}
		p.Faults = kept
	}

	if p.Status != nil && p.Status.Flags != nil {
		for group, flags := range p.Status.Flags {
			if strings.TrimSpace(group) == "" {
				delete(p.Status.Flags, group)
				continue
			}
			keptFlags := flags[:0]
			for _, fl := range flags {
				if strings.TrimSpace(fl) == "" {
					continue
				}
				keptFlags = append(keptFlags, fl)
			}
			p.Status.Flags[group] = keptFlags
		}
	}
}

func finiteOrNil(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
