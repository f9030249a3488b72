package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thermline/hpfleet/internal/coremodel"
)

func TestSanitizeNonFinite(t *testing.T) {
	nan := math.NaN()
	inf := math.Inf(1)
	p := &coremodel.TelemetryPayload{
		DeviceID: "HP-001",
		Ts:       time.Now(),
		Metrics: coremodel.Metrics{
			SupplyC:     &nan,
			ReturnC:     &inf,
			FlowLMin:    f64(18.5),
			CompressorA: f64(6.2),
		},
	}
	Sanitize(p)

	assert.Nil(t, p.Metrics.SupplyC)
	assert.Nil(t, p.Metrics.ReturnC)
	assert.InDelta(t, 18.5, *p.Metrics.FlowLMin, 1e-9)
}

func TestSanitizeFaultsAndFlags(t *testing.T) {
	p := &coremodel.TelemetryPayload{
		DeviceID: "HP-001",
		Ts:       time.Now(),
		Faults: []coremodel.Fault{
			{Code: "  "},
			{Code: "LP02_LOW_PRESSURE", Severity: "critical"},
		},
		Status: &coremodel.DeviceStatus{
			Flags: map[string][]string{
				"":       {"orphan"},
				"limits": {"", "eev_max"},
			},
		},
	}
	Sanitize(p)

	assert.Len(t, p.Faults, 1)
	assert.NotContains(t, p.Status.Flags, "")
	assert.Equal(t, []string{"eev_max"}, p.Status.Flags["limits"])
}
