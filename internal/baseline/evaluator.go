// Package baseline 基线偏离评估：把设备滚动窗口和参考基线折算为
// coverage/drift，并分级为 ok/warn/crit。
package baseline

import (
	"math"
	"sort"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// Class 评估结论。NoData 是独立的第三态：
// 没有基线或窗口为空时绝不折算成 ok，调用方必须显式分支。
type Class string

const (
	ClassNoData Class = "no_data"
	ClassOK     Class = "ok"
	ClassWarn   Class = "warn"
	ClassCrit   Class = "crit"
)

// Thresholds 每维度可配阈值。coverage 低于阈值、|drift| 达到阈值则触发
type Thresholds struct {
	CoverageWarn float64 `yaml:"coverageWarn"`
	CoverageCrit float64 `yaml:"coverageCrit"`
	DriftWarn    float64 `yaml:"driftWarn"`
	DriftCrit    float64 `yaml:"driftCrit"`
	DwellSec     int     `yaml:"dwellSec"` // 各维度共享的 dwell
}

// Result 单维度评估结果
type Result struct {
	Kind     coremodel.BaselineKind
	Class    Class
	Coverage float64
	Drift    float64
	Units    string
	Samples  int
}

// Evaluate 计算 coverage 与 drift 并分级：
//
//	coverage = |{v ∈ window : p25 ≤ v ≤ p75}| / |window|
//	drift    = median(window) − baseline.median
func Evaluate(kind coremodel.BaselineKind, window []float64, b *coremodel.Baseline, th Thresholds) Result {
	res := Result{Kind: kind, Class: ClassNoData, Units: kind.Units()}
	if b == nil || len(window) == 0 {
		return res
	}

	inBand := 0
	for _, v := range window {
		if v >= b.P25 && v <= b.P75 {
			inBand++
		}
	}
	res.Samples = len(window)
	res.Coverage = float64(inBand) / float64(len(window))
	res.Drift = median(window) - b.Median

	switch {
	case res.Coverage < th.CoverageCrit || math.Abs(res.Drift) >= th.DriftCrit:
		res.Class = ClassCrit
	case res.Coverage < th.CoverageWarn || math.Abs(res.Drift) >= th.DriftWarn:
		res.Class = ClassWarn
	default:
		res.Class = ClassOK
	}
	return res
}

// median 偶数个取中间两值均值
func median(vals []float64) float64 {
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
