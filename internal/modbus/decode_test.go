package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Full(t *testing.T) {
	regs := map[uint16]uint16{
		regSupplyTemp:  452,    // 45.2 ℃
		regReturnTemp:  398,    // 39.8 ℃
		regAmbientTemp: 0xFFCE, // int16(-50) => -5.0 ℃
		regFlowRate:    185,    // 18.5 L/min
		regCompCurrent: 62,     // 6.2 A
		regEEVSteps:    240,
		regPower:       2150,            // 2.15 kW
		regStatusBits:  0x0001 | 0x0010, // heating + online
		regFaultBitmap: 0x0004,          // flow switch
	}

	m, status, faults, err := Decode(regs)
	require.NoError(t, err)

	require.NotNil(t, m.SupplyC)
	assert.InDelta(t, 45.2, *m.SupplyC, 1e-9)
	assert.InDelta(t, 39.8, *m.ReturnC, 1e-9)
	assert.InDelta(t, -5.0, *m.AmbientC, 1e-9)
	assert.Nil(t, m.TankC)
	assert.InDelta(t, 18.5, *m.FlowLMin, 1e-9)
	assert.InDelta(t, 6.2, *m.CompressorA, 1e-9)
	assert.Equal(t, int32(240), *m.EEVSteps)
	assert.InDelta(t, 2.15, *m.PowerKW, 1e-9)

	require.NotNil(t, status)
	assert.Equal(t, "heating", status.Mode)
	assert.False(t, status.Defrost)
	assert.True(t, status.Online)

	require.Len(t, faults, 1)
	assert.Equal(t, "FL03_FLOW_SWITCH", faults[0].Code)
	assert.Equal(t, "major", faults[0].Severity)
}

func TestDecode_SensorSentinel(t *testing.T) {
	m, _, _, err := Decode(map[uint16]uint16{
		regSupplyTemp: invalidTemp,
		regReturnTemp: 400,
	})
	require.NoError(t, err)
	assert.Nil(t, m.SupplyC)
	require.NotNil(t, m.ReturnC)
	assert.InDelta(t, 40.0, *m.ReturnC, 1e-9)
}

func TestDecode_Empty(t *testing.T) {
	_, _, _, err := Decode(nil)
	assert.Error(t, err)
}

func TestDecode_MultipleFaults(t *testing.T) {
	_, _, faults, err := Decode(map[uint16]uint16{
		regFaultBitmap: 0x0001 | 0x0008 | 0x0080,
	})
	require.NoError(t, err)
	require.Len(t, faults, 3)
	assert.Equal(t, "HP01_HIGH_PRESSURE", faults[0].Code)
	assert.Equal(t, "CT04_COMP_OVERCURRENT", faults[1].Code)
	assert.Equal(t, "EV08_EEV_FAULT", faults[2].Code)
}
