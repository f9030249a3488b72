package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// fakeStore 内存版 storage.Store，规则引擎测试专用
type fakeStore struct {
	mu         sync.Mutex
	devices    map[string]*coremodel.Device
	alerts     []*coremodel.Alert
	nextID     int64
	ruleStates map[string]map[string]coremodel.RuleState
	baselines  map[string]*coremodel.Baseline
	maint      bool
	setOnline  []string // SetDeviceOnline 调用记录
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:    map[string]*coremodel.Device{},
		ruleStates: map[string]map[string]coremodel.RuleState{},
		baselines:  map[string]*coremodel.Baseline{},
	}
}

func (f *fakeStore) addDevice(dev coremodel.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[dev.DeviceID] = &dev
}

func (f *fakeStore) addBaseline(b coremodel.Baseline) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baselines[b.DeviceID+"/"+string(b.Kind)] = &b
}

func (f *fakeStore) openAlerts() []*coremodel.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*coremodel.Alert
	for _, a := range f.alerts {
		if a.State == coremodel.AlertOpen || a.State == coremodel.AlertAcknowledged {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

func (f *fakeStore) ruleState(deviceID, key string) coremodel.RuleState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ruleStates[deviceID][key]
}

func (f *fakeStore) EnsureDevice(_ context.Context, deviceID string) (*coremodel.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[deviceID]; ok {
		return d, nil
	}
	d := &coremodel.Device{ID: int64(len(f.devices) + 1), DeviceID: deviceID}
	f.devices[deviceID] = d
	return d, nil
}

func (f *fakeStore) MarkDeviceOnline(_ context.Context, deviceID string, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[deviceID]; ok {
		d.Online = true
		if d.LastSeenAt == nil || seenAt.After(*d.LastSeenAt) {
			d.LastSeenAt = &seenAt
		}
	}
	return nil
}

func (f *fakeStore) SetDeviceOnline(_ context.Context, deviceID string, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[deviceID]; ok {
		d.Online = online
	}
	f.setOnline = append(f.setOnline, deviceID)
	return nil
}

func (f *fakeStore) ListDevicesForSweep(_ context.Context) ([]coremodel.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]coremodel.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeStore) InsertTelemetry(context.Context, *coremodel.EnrichedSample) error  { return nil }
func (f *fakeStore) UpsertLatestState(context.Context, *coremodel.EnrichedSample) error { return nil }
func (f *fakeStore) RecordHeartbeat(context.Context, *coremodel.HeartbeatPayload) error { return nil }

func (f *fakeStore) FindOpenAlert(_ context.Context, deviceID, typ, kind string) (*coremodel.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.DeviceID == deviceID && a.Type == typ && a.Kind == kind &&
			(a.State == coremodel.AlertOpen || a.State == coremodel.AlertAcknowledged) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a *coremodel.Alert) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *a
	cp.ID = f.nextID
	f.alerts = append(f.alerts, &cp)
	return cp.ID, nil
}

func (f *fakeStore) PatchAlert(_ context.Context, id int64, sev coremodel.Severity, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			a.Severity = sev
			if meta != nil {
				a.Meta = meta
			}
		}
	}
	return nil
}

func (f *fakeStore) CloseAlert(_ context.Context, id int64, closedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			a.State = coremodel.AlertClosed
			ts := closedAt
			a.ClosedAt = &ts
		}
	}
	return nil
}

func (f *fakeStore) LoadRuleStates(_ context.Context, deviceID string) (map[string]coremodel.RuleState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]coremodel.RuleState{}
	for k, v := range f.ruleStates[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveRuleState(_ context.Context, deviceID, ruleKey string, st coremodel.RuleState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ruleStates[deviceID] == nil {
		f.ruleStates[deviceID] = map[string]coremodel.RuleState{}
	}
	f.ruleStates[deviceID][ruleKey] = st
	return nil
}

func (f *fakeStore) BestBaseline(_ context.Context, deviceID string, kind coremodel.BaselineKind) (*coremodel.Baseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.baselines[deviceID+"/"+string(kind)]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) InMaintenance(context.Context, string, *string, time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maint, nil
}

func (f *fakeStore) InsertWriteAudit(context.Context, *coremodel.Command) error { return nil }
func (f *fakeStore) UpdateWriteAudit(context.Context, string, coremodel.CommandStatus, string, time.Time) error {
	return nil
}
func (f *fakeStore) InsertOpsMetric(context.Context, string, string, string, time.Duration) error {
	return nil
}

// memSnapshots Actor 快照的内存实现
type memSnapshots struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemSnapshots() *memSnapshots { return &memSnapshots{blobs: map[string][]byte{}} }

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
