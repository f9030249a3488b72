package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thermline/hpfleet/internal/coremodel"
)

var defaultTh = Thresholds{
	CoverageWarn: 0.5,
	CoverageCrit: 0.25,
	DriftWarn:    2.0,
	DriftCrit:    4.0,
}

func TestEvaluate_CoverageAndDrift(t *testing.T) {
	// 基线 {p25=4, p75=6, median=5}，窗口 [4,6,8]
	// coverage = 2/3，drift = median([4,6,8]) − 5 = 1
	b := &coremodel.Baseline{Kind: coremodel.BaselineDeltaT, Median: 5, P25: 4, P75: 6}
	res := Evaluate(coremodel.BaselineDeltaT, []float64{4, 6, 8}, b, defaultTh)

	assert.Equal(t, ClassOK, res.Class)
	assert.InDelta(t, 2.0/3.0, res.Coverage, 1e-9)
	assert.InDelta(t, 1.0, res.Drift, 1e-9)
	assert.Equal(t, 3, res.Samples)
	assert.Equal(t, "K", res.Units)
}

func TestEvaluate_NoData(t *testing.T) {
	b := &coremodel.Baseline{Median: 5, P25: 4, P75: 6}

	// 无基线
	res := Evaluate(coremodel.BaselineCOP, []float64{1, 2, 3}, nil, defaultTh)
	assert.Equal(t, ClassNoData, res.Class)

	// 空窗口
	res = Evaluate(coremodel.BaselineCOP, nil, b, defaultTh)
	assert.Equal(t, ClassNoData, res.Class)
	// no_data 不是 ok
	assert.NotEqual(t, ClassOK, res.Class)
}

func TestEvaluate_WarnOnCoverage(t *testing.T) {
	b := &coremodel.Baseline{Median: 5, P25: 4, P75: 6}
	// 4 个样本只有 1 个在带内：coverage=0.25 < warn(0.5)，≥ crit(0.25) 边界
	res := Evaluate(coremodel.BaselineDeltaT, []float64{5, 9, 10, 11}, b, defaultTh)
	assert.Equal(t, ClassCrit, res.Class) // drift=median(5,9,10,11)-5=4.5 ≥ DriftCrit
}

func TestEvaluate_WarnOnDrift(t *testing.T) {
	b := &coremodel.Baseline{Median: 5, P25: 0, P75: 10}
	// 全部在带内但中位数漂了 2.5（≥ warn 2.0, < crit 4.0）
	res := Evaluate(coremodel.BaselineCurrent, []float64{7, 7.5, 8}, b, defaultTh)
	assert.Equal(t, ClassWarn, res.Class)
	assert.InDelta(t, 2.5, res.Drift, 1e-9)
	assert.InDelta(t, 1.0, res.Coverage, 1e-9)
}

func TestEvaluate_NegativeDrift(t *testing.T) {
	b := &coremodel.Baseline{Median: 5, P25: 0, P75: 10}
	res := Evaluate(coremodel.BaselineCOP, []float64{0.5, 0.6, 0.7}, b, defaultTh)
	// |drift| = 4.4 ≥ crit
	assert.Equal(t, ClassCrit, res.Class)
	assert.Less(t, res.Drift, 0.0)
}

func TestMedian_Even(t *testing.T) {
	assert.InDelta(t, 5.0, median([]float64{4, 6}), 1e-9)
	assert.InDelta(t, 5.0, median([]float64{6, 4, 5, 5}), 1e-9)
}
