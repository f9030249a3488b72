package coremodel

const (
	// 水的比热容 kJ/(kg·K)，流量按 1 kg/L 折算
	waterSpecificHeatKJ = 4.186
	// 电功率缺失时按压缩机电流在标称电压下估算
	nominalMainsVoltage = 230.0
	// 估算/实测功率低于该值时不计算 COP，避免除小数爆表
	minPowerKWForCOP = 0.05
)

// ComputeDerived 由原始指标计算派生指标（纯函数）：
//
//	deltaT    = supplyC − returnC
//	thermalKW = flowLMin × deltaT × c / 60
//	cop       = thermalKW / powerKW（实测功率优先，否则按电流估算）
//
// 任一输入缺失时对应输出为 nil，绝不猜测
func ComputeDerived(m Metrics) DerivedMetrics {
	var d DerivedMetrics

	if m.SupplyC != nil && m.ReturnC != nil {
		dt := *m.SupplyC - *m.ReturnC
		d.DeltaT = &dt

		if m.FlowLMin != nil {
			th := *m.FlowLMin * dt * waterSpecificHeatKJ / 60.0
			d.ThermalKW = &th
		}
	}

	if d.ThermalKW == nil {
		return d
	}

	powerKW, quality := effectivePower(m)
	if quality == CopNone || powerKW < minPowerKWForCOP {
		return d
	}

	cop := *d.ThermalKW / powerKW
	d.COP = &cop
	d.CopQuality = quality
	return d
}

// effectivePower 返回用于 COP 计算的电功率及其口径
func effectivePower(m Metrics) (float64, CopQuality) {
	if m.PowerKW != nil && *m.PowerKW > 0 {
		return *m.PowerKW, CopMeasured
	}
	if m.CompressorA != nil && *m.CompressorA > 0 {
		return *m.CompressorA * nominalMainsVoltage / 1000.0, CopEstimated
	}
	return 0, CopNone
}
