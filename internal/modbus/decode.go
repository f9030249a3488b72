// Package modbus 把热泵控制器的原始寄存器映射解码为 {metrics, status, faults}。
// 纯函数：寄存器已由边界层读出，这里不做任何总线 IO。
package modbus

import (
	"fmt"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// 寄存器表（保持与控制器固件文档一致）
const (
	regSupplyTemp  = 0x0000 // int16, 0.1 ℃
	regReturnTemp  = 0x0001 // int16, 0.1 ℃
	regTankTemp    = 0x0002 // int16, 0.1 ℃
	regAmbientTemp = 0x0003 // int16, 0.1 ℃
	regFlowRate    = 0x0010 // uint16, 0.1 L/min
	regCompCurrent = 0x0011 // uint16, 0.1 A
	regEEVSteps    = 0x0012 // uint16, steps
	regPower       = 0x0013 // uint16, W
	regStatusBits  = 0x0020 // bitmap
	regFaultBitmap = 0x0030 // bitmap
)

// 温度寄存器的无效哨兵值（传感器断开时固件上报）
const invalidTemp = 0x7FFF

// 状态位
const (
	statusModeMask   = 0x0007 // bit0-2: 运行模式
	statusDefrostBit = 0x0008
	statusOnlineBit  = 0x0010
)

var modeNames = [...]string{"standby", "heating", "cooling", "dhw", "legionella"}

// 故障位 -> 故障码
var faultBits = []struct {
	bit      uint16
	code     string
	severity string
}{
	{0x0001, "HP01_HIGH_PRESSURE", "critical"},
	{0x0002, "LP02_LOW_PRESSURE", "critical"},
	{0x0004, "FL03_FLOW_SWITCH", "major"},
	{0x0008, "CT04_COMP_OVERCURRENT", "major"},
	{0x0010, "ST05_SUPPLY_SENSOR", "minor"},
	{0x0020, "ST06_RETURN_SENSOR", "minor"},
	{0x0040, "DF07_DEFROST_TIMEOUT", "minor"},
	{0x0080, "EV08_EEV_FAULT", "major"},
}

// Decode 解码寄存器映射。缺失寄存器对应字段缺失，不视为错误；
// 完全空的映射返回错误（说明边界层读取失败却仍然调了解码）。
func Decode(regs map[uint16]uint16) (coremodel.Metrics, *coremodel.DeviceStatus, []coremodel.Fault, error) {
	if len(regs) == 0 {
		return coremodel.Metrics{}, nil, nil, fmt.Errorf("empty register map")
	}

	var m coremodel.Metrics
	m.SupplyC = tempAt(regs, regSupplyTemp)
	m.ReturnC = tempAt(regs, regReturnTemp)
	m.TankC = tempAt(regs, regTankTemp)
	m.AmbientC = tempAt(regs, regAmbientTemp)

	if raw, ok := regs[regFlowRate]; ok {
		v := float64(raw) / 10.0
		m.FlowLMin = &v
	}
	if raw, ok := regs[regCompCurrent]; ok {
		v := float64(raw) / 10.0
		m.CompressorA = &v
	}
	if raw, ok := regs[regEEVSteps]; ok {
		v := int32(raw)
		m.EEVSteps = &v
	}
	if raw, ok := regs[regPower]; ok {
		v := float64(raw) / 1000.0
		m.PowerKW = &v
	}

	var status *coremodel.DeviceStatus
	if raw, ok := regs[regStatusBits]; ok {
		status = &coremodel.DeviceStatus{
			Mode:    modeName(raw & statusModeMask),
			Defrost: raw&statusDefrostBit != 0,
			Online:  raw&statusOnlineBit != 0,
		}
	}

	var faults []coremodel.Fault
	if raw, ok := regs[regFaultBitmap]; ok {
		for _, f := range faultBits {
			if raw&f.bit != 0 {
				faults = append(faults, coremodel.Fault{Code: f.code, Severity: f.severity})
			}
		}
	}

	return m, status, faults, nil
}

// tempAt 0.1℃ 定点有符号温度，哨兵值视为缺失
func tempAt(regs map[uint16]uint16, addr uint16) *float64 {
	raw, ok := regs[addr]
	if !ok || raw == invalidTemp {
		return nil
	}
	v := float64(int16(raw)) / 10.0
	return &v
}

func modeName(mode uint16) string {
	if int(mode) < len(modeNames) {
		return modeNames[mode]
	}
	return fmt.Sprintf("mode_%d", mode)
}
