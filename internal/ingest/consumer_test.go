package ingest

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/actor"
	"github.com/thermline/hpfleet/internal/alerts"
	cfgpkg "github.com/thermline/hpfleet/internal/config"
	"github.com/thermline/hpfleet/internal/coremodel"
	"github.com/thermline/hpfleet/internal/metrics"
)

// recordStore 记录调用的内存 Store
type recordStore struct {
	mu         sync.Mutex
	devices    map[string]*coremodel.Device
	telemetry  []*coremodel.EnrichedSample
	latest     map[string]*coremodel.EnrichedSample
	heartbeats []*coremodel.HeartbeatPayload
	alerts     []*coremodel.Alert
	nextID     int64
	ruleStates map[string]map[string]coremodel.RuleState
	opsRoutes  []string
	failsLeft  int // 前 N 次遥测写入注入失败
}

func newRecordStore() *recordStore {
	return &recordStore{
		devices:    map[string]*coremodel.Device{},
		latest:     map[string]*coremodel.EnrichedSample{},
		ruleStates: map[string]map[string]coremodel.RuleState{},
	}
}

func (r *recordStore) EnsureDevice(_ context.Context, deviceID string) (*coremodel.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		return d, nil
	}
	d := &coremodel.Device{ID: int64(len(r.devices) + 1), DeviceID: deviceID}
	r.devices[deviceID] = d
	return d, nil
}

func (r *recordStore) MarkDeviceOnline(_ context.Context, deviceID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[deviceID]; ok {
		d.Online = true
		if d.LastSeenAt == nil || seenAt.After(*d.LastSeenAt) {
			d.LastSeenAt = &seenAt
		}
	}
	return nil
}

func (r *recordStore) SetDeviceOnline(context.Context, string, bool) error { return nil }

func (r *recordStore) ListDevicesForSweep(context.Context) ([]coremodel.Device, error) {
	return nil, nil
}

func (r *recordStore) InsertTelemetry(_ context.Context, s *coremodel.EnrichedSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failsLeft > 0 {
		r.failsLeft--
		return assert.AnError
	}
	// (device_id, ts) 冲突替换
	for i, old := range r.telemetry {
		if old.DeviceID == s.DeviceID && old.Ts.Equal(s.Ts) {
			r.telemetry[i] = s
			return nil
		}
	}
	r.telemetry = append(r.telemetry, s)
	return nil
}

func (r *recordStore) UpsertLatestState(_ context.Context, s *coremodel.EnrichedSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[s.DeviceID] = s
	return nil
}

func (r *recordStore) RecordHeartbeat(_ context.Context, hb *coremodel.HeartbeatPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats = append(r.heartbeats, hb)
	return nil
}

func (r *recordStore) FindOpenAlert(_ context.Context, deviceID, typ, kind string) (*coremodel.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.DeviceID == deviceID && a.Type == typ && a.Kind == kind && a.State == coremodel.AlertOpen {
			return a, nil
		}
	}
	return nil, nil
}

func (r *recordStore) InsertAlert(_ context.Context, a *coremodel.Alert) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *a
	cp.ID = r.nextID
	r.alerts = append(r.alerts, &cp)
	return cp.ID, nil
}

func (r *recordStore) PatchAlert(context.Context, int64, coremodel.Severity, map[string]any) error {
	return nil
}

func (r *recordStore) CloseAlert(_ context.Context, id int64, closedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == id {
			a.State = coremodel.AlertClosed
			ts := closedAt
			a.ClosedAt = &ts
		}
	}
	return nil
}

func (r *recordStore) LoadRuleStates(_ context.Context, deviceID string) (map[string]coremodel.RuleState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]coremodel.RuleState{}
	for k, v := range r.ruleStates[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (r *recordStore) SaveRuleState(_ context.Context, deviceID, ruleKey string, st coremodel.RuleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ruleStates[deviceID] == nil {
		r.ruleStates[deviceID] = map[string]coremodel.RuleState{}
	}
	r.ruleStates[deviceID][ruleKey] = st
	return nil
}

func (r *recordStore) BestBaseline(context.Context, string, coremodel.BaselineKind) (*coremodel.Baseline, error) {
	return nil, nil
}

func (r *recordStore) InMaintenance(context.Context, string, *string, time.Time) (bool, error) {
	return false, nil
}

func (r *recordStore) InsertWriteAudit(context.Context, *coremodel.Command) error { return nil }
func (r *recordStore) UpdateWriteAudit(context.Context, string, coremodel.CommandStatus, string, time.Time) error {
	return nil
}

func (r *recordStore) InsertOpsMetric(_ context.Context, route, status, _ string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opsRoutes = append(r.opsRoutes, route+":"+status)
	return nil
}

// memSnapshots Actor 快照内存实现
type memSnapshots struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memSnapshots) Load(_ context.Context, deviceID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[deviceID], nil
}

func (m *memSnapshots) Save(_ context.Context, deviceID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[deviceID] = append([]byte(nil), blob...)
	return nil
}

// memDLQ 内存死信
type memDLQ struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (d *memDLQ) Push(_ context.Context, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	return nil
}

func newTestConsumer(t *testing.T, store *recordStore) (*Consumer, *actor.Registry, *memDLQ) {
	t.Helper()
	actors := actor.NewRegistry(&memSnapshots{blobs: map[string][]byte{}}, 3*time.Hour, 16, zap.NewNop(), nil)
	t.Cleanup(actors.Shutdown)
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	engine := alerts.NewEngine(store, actors, alerts.Default(), m, zap.NewNop())
	dlq := &memDLQ{}
	c := NewConsumer(nil, store, actors, engine, dlq,
		cfgpkg.IngestConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}, m, zap.NewNop())
	return c, actors, dlq
}

func f64(v float64) *float64 { return &v }

func envelope(t *testing.T, kind coremodel.MessageKind, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	env, err := json.Marshal(coremodel.Envelope{Kind: kind, Payload: body})
	require.NoError(t, err)
	return env
}

func TestProcessTelemetry(t *testing.T) {
	store := newRecordStore()
	c, actors, _ := newTestConsumer(t, store)

	ts := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	p := coremodel.TelemetryPayload{
		DeviceID: "HP-001",
		Ts:       ts,
		Metrics: coremodel.Metrics{
			SupplyC: f64(45.2), ReturnC: f64(39.8),
			FlowLMin: f64(18.5), CompressorA: f64(6.2), PowerKW: f64(2.15),
		},
	}

	kind, err := c.processOnce(context.Background(), envelope(t, coremodel.KindTelemetry, p))
	require.NoError(t, err)
	assert.Equal(t, coremodel.KindTelemetry, kind)

	// 历史 + 最新态 + 在线位
	require.Len(t, store.telemetry, 1)
	require.Contains(t, store.latest, "HP-001")
	assert.True(t, store.devices["HP-001"].Online)
	require.NotNil(t, store.devices["HP-001"].LastSeenAt)

	// 派生指标已算入
	latest := store.latest["HP-001"]
	require.NotNil(t, latest.Derived.DeltaT)
	assert.InDelta(t, 5.4, *latest.Derived.DeltaT, 1e-9)
	assert.Equal(t, coremodel.CopMeasured, latest.Derived.CopQuality)

	// Actor 快照与窗口就位
	snap, err := actors.Get("HP-001").State(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Latest)
	require.Len(t, snap.Window, 1)
	assert.Equal(t, ts, snap.Window[0].Ts)

	assert.Contains(t, store.opsRoutes, "ingest.telemetry:ok")
}

func TestProcessTelemetryReplayIdempotent(t *testing.T) {
	store := newRecordStore()
	c, actors, _ := newTestConsumer(t, store)

	ts := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	p := coremodel.TelemetryPayload{
		DeviceID: "HP-001", Ts: ts,
		Metrics: coremodel.Metrics{SupplyC: f64(45.2), ReturnC: f64(39.8)},
	}
	raw := envelope(t, coremodel.KindTelemetry, p)

	_, err := c.processOnce(context.Background(), raw)
	require.NoError(t, err)
	_, err = c.processOnce(context.Background(), raw)
	require.NoError(t, err)

	// (device_id, ts) 替换语义：历史仍是一行，latest 内容不变
	assert.Len(t, store.telemetry, 1)
	assert.InDelta(t, 45.2, *store.latest["HP-001"].Metrics.SupplyC, 1e-9)
	assert.Empty(t, store.alerts)

	// 滚动窗口同样按 (device, ts) 键控：重放不得产生重复点
	snap, err := actors.Get("HP-001").State(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Window, 1)
	assert.InDelta(t, 5.4, *snap.Window[0].DeltaT, 1e-9)
}

func TestProcessTelemetrySanitizes(t *testing.T) {
	store := newRecordStore()
	c, _, _ := newTestConsumer(t, store)

	// NaN 用 json 表达不了，直接调内部链路验证清洗
	badFlow := math.NaN()
	p := &coremodel.TelemetryPayload{
		DeviceID: "HP-001",
		Ts:       time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		Metrics:  coremodel.Metrics{SupplyC: f64(45), FlowLMin: &badFlow},
		Faults:   []coremodel.Fault{{Code: ""}, {Code: "HP01_HIGH_PRESSURE", Severity: "critical"}},
	}
	require.NoError(t, c.processTelemetry(context.Background(), p))

	latest := store.latest["HP-001"]
	assert.Nil(t, latest.Metrics.FlowLMin)
	require.Len(t, latest.Faults, 1)
	assert.Equal(t, "HP01_HIGH_PRESSURE", latest.Faults[0].Code)
}

func TestProcessHeartbeat(t *testing.T) {
	store := newRecordStore()
	c, actors, _ := newTestConsumer(t, store)

	ts := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	hb := coremodel.HeartbeatPayload{DeviceID: "HP-001", Ts: ts}
	_, err := c.processOnce(context.Background(), envelope(t, coremodel.KindHeartbeat, hb))
	require.NoError(t, err)

	require.Len(t, store.heartbeats, 1)
	assert.True(t, store.devices["HP-001"].Online)

	snap, err := actors.Get("HP-001").State(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.LastHeartbeatTs)
	assert.Equal(t, ts, *snap.LastHeartbeatTs)

	// 乱序旧心跳不回拨
	stale := coremodel.HeartbeatPayload{DeviceID: "HP-001", Ts: ts.Add(-time.Minute)}
	_, err = c.processOnce(context.Background(), envelope(t, coremodel.KindHeartbeat, stale))
	require.NoError(t, err)
	snap, _ = actors.Get("HP-001").State(context.Background())
	assert.Equal(t, ts, *snap.LastHeartbeatTs)
	assert.Equal(t, ts, *store.devices["HP-001"].LastSeenAt)
}

func TestHandleMessageDeadLetters(t *testing.T) {
	store := newRecordStore()
	c, _, dlq := newTestConsumer(t, store)

	raw := []byte(`{"kind":"telemetry","payload":{"deviceId":""}}`)
	c.handleMessage(context.Background(), kafka.Message{Value: raw, Offset: 42})

	require.Len(t, dlq.payloads, 1)
	assert.Equal(t, raw, dlq.payloads[0])
}

func TestHandleMessageRetriesThenSucceeds(t *testing.T) {
	store := newRecordStore()
	c, _, dlq := newTestConsumer(t, store)

	store.failsLeft = 1
	p := coremodel.TelemetryPayload{
		DeviceID: "HP-001",
		Ts:       time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		Metrics:  coremodel.Metrics{SupplyC: f64(45)},
	}
	raw := envelope(t, coremodel.KindTelemetry, p)

	// 首次写入失败，重试成功，不进死信
	c.handleMessage(context.Background(), kafka.Message{Value: raw})

	assert.Empty(t, dlq.payloads)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.telemetry, 1)
}
