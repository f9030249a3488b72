package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/coremodel"
)

type fakePublisher struct {
	telemetry  []*coremodel.TelemetryPayload
	heartbeats []*coremodel.HeartbeatPayload
}

func (f *fakePublisher) PublishTelemetry(_ context.Context, p *coremodel.TelemetryPayload) error {
	f.telemetry = append(f.telemetry, p)
	return nil
}

func (f *fakePublisher) PublishHeartbeat(_ context.Context, p *coremodel.HeartbeatPayload) error {
	f.heartbeats = append(f.heartbeats, p)
	return nil
}

func newIngestRouter(pub Publisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewIngestHandler(pub, zap.NewNop())
	r.POST("/ingest/telemetry", h.PostTelemetry)
	r.POST("/ingest/heartbeat", h.PostHeartbeat)
	r.POST("/ingest/modbus", h.PostModbus)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostTelemetry(t *testing.T) {
	pub := &fakePublisher{}
	r := newIngestRouter(pub)

	w := postJSON(t, r, "/ingest/telemetry", map[string]any{
		"deviceId": "HP-001",
		"ts":       "2026-08-27T09:00:00Z",
		"metrics":  map[string]any{"supplyC": 45.2, "returnC": 39.8},
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, pub.telemetry, 1)
	assert.Equal(t, "HP-001", pub.telemetry[0].DeviceID)
	assert.InDelta(t, 45.2, *pub.telemetry[0].Metrics.SupplyC, 1e-9)
}

func TestPostTelemetryRejectsMissingDevice(t *testing.T) {
	pub := &fakePublisher{}
	r := newIngestRouter(pub)

	w := postJSON(t, r, "/ingest/telemetry", map[string]any{
		"ts":      "2026-08-27T09:00:00Z",
		"metrics": map[string]any{"supplyC": 45.2},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.telemetry)
}

func TestPostHeartbeat(t *testing.T) {
	pub := &fakePublisher{}
	r := newIngestRouter(pub)

	w := postJSON(t, r, "/ingest/heartbeat", map[string]any{
		"deviceId": "HP-001",
		"ts":       "2026-08-27T09:00:00Z",
		"rssi":     -67,
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, pub.heartbeats, 1)
	assert.Equal(t, int32(-67), *pub.heartbeats[0].RSSI)
}

func TestPostModbusDecodes(t *testing.T) {
	pub := &fakePublisher{}
	r := newIngestRouter(pub)

	w := postJSON(t, r, "/ingest/modbus", map[string]any{
		"deviceId": "HP-001",
		"ts":       "2026-08-27T09:00:00Z",
		"registers": map[string]any{
			"0x0000": 452,
			"0x0001": 398,
			"0x0010": 185,
		},
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, pub.telemetry, 1)
	m := pub.telemetry[0].Metrics
	assert.InDelta(t, 45.2, *m.SupplyC, 1e-9)
	assert.InDelta(t, 39.8, *m.ReturnC, 1e-9)
	assert.InDelta(t, 18.5, *m.FlowLMin, 1e-9)
}

func TestPostModbusRejectsBadAddress(t *testing.T) {
	pub := &fakePublisher{}
	r := newIngestRouter(pub)

	w := postJSON(t, r, "/ingest/modbus", map[string]any{
		"deviceId":  "HP-001",
		"ts":        "2026-08-27T09:00:00Z",
		"registers": map[string]any{"not-an-addr": 1},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.telemetry)
}
