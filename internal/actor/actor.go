// Package actor 每设备一个串行化状态机实例：所有针对单设备的变更
// 在同一 mailbox goroutine 中按到达顺序执行，不同设备完全独立并发。
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thermline/hpfleet/internal/coremodel"
)

// SnapshotStore 持久化快照：每设备一个固定 key 的 blob，
// 冷启动读取，每次变更后写入
type SnapshotStore interface {
	Load(ctx context.Context, deviceID string) ([]byte, error)
	Save(ctx context.Context, deviceID string, blob []byte) error
}

// Snapshot Actor 持久化状态。短周期切换缓冲也存在这里：
// 它和窗口一样是设备私有、重启需恢复的状态
type Snapshot struct {
	Latest           *coremodel.EnrichedSample `json:"latest,omitempty"`
	Window           []coremodel.WindowSample  `json:"window,omitempty"`
	Pending          []coremodel.Command       `json:"pending,omitempty"`
	Toggles          []time.Time               `json:"toggles,omitempty"`
	LastCompressorOn *bool                     `json:"lastCompressorOn,omitempty"`
	LastHeartbeatTs  *time.Time                `json:"lastHeartbeatTs,omitempty"`
}

// WindowValues 提取某维度的窗口数值序列（基线评估用）
func (s *Snapshot) WindowValues(kind coremodel.BaselineKind) []float64 {
	out := make([]float64, 0, len(s.Window))
	for _, w := range s.Window {
		var v *float64
		switch kind {
		case coremodel.BaselineDeltaT:
			v = w.DeltaT
		case coremodel.BaselineCOP:
			v = w.COP
		case coremodel.BaselineCurrent:
			v = w.CurrentA
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

type task struct {
	fn   func(s *Snapshot) (dirty bool, err error)
	done chan error
}

// Actor 单设备状态机。创建后立即后台加载快照；
// 加载完成前所有请求阻塞（不会基于空状态服务）
type Actor struct {
	deviceID  string
	store     SnapshotStore
	retention time.Duration
	log       *zap.Logger

	mailbox    chan task
	ready      chan struct{}
	quit       chan struct{}
	stopped    chan struct{}
	loadErr    error
	onLoadFail func(a *Actor) // 快照加载不可恢复时回调（注册表借此摘除实例）

	snap Snapshot
	now  func() time.Time
}

// ErrStopped Actor 已关闭
var ErrStopped = errors.New("device actor stopped")

func newActor(deviceID string, store SnapshotStore, retention time.Duration, mailboxSize int, log *zap.Logger, onLoadFail func(a *Actor)) *Actor {
	if retention <= 0 {
		retention = 3 * time.Hour
	}
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	a := &Actor{
		deviceID:   deviceID,
		store:      store,
		retention:  retention,
		log:        log,
		mailbox:    make(chan task, mailboxSize),
		ready:      make(chan struct{}),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		onLoadFail: onLoadFail,
		now:        time.Now,
	}
	go a.run()
	return a
}

// loadSnapshot 冷启动恢复，瞬时存储故障带退避重试
func (a *Actor) loadSnapshot() ([]byte, error) {
	const attempts = 3
	var blob []byte
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		blob, err = a.store.Load(loadCtx, a.deviceID)
		cancel()
		if err == nil {
			return blob, nil
		}
		a.log.Warn("actor snapshot load failed",
			zap.String("device_id", a.deviceID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < attempts {
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-a.quit:
				return nil, err
			}
		}
	}
	return nil, err
}

func (a *Actor) run() {
	// 冷启动：先恢复快照再放行 mailbox
	blob, err := a.loadSnapshot()
	if err != nil {
		// 加载不可恢复：摘除自身，下一次 Get 重新拉起新实例
		a.loadErr = err
		a.log.Error("actor snapshot load gave up",
			zap.String("device_id", a.deviceID), zap.Error(err))
		if a.onLoadFail != nil {
			a.onLoadFail(a)
		}
		close(a.ready)
		close(a.stopped)
		return
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &a.snap); err != nil {
			// 损坏的快照当作空状态，保留错误日志供排查
			a.log.Error("actor snapshot corrupt, starting empty",
				zap.String("device_id", a.deviceID), zap.Error(err))
			a.snap = Snapshot{}
		}
	}
	close(a.ready)

	for {
		select {
		case t := <-a.mailbox:
			a.execute(t)
		case <-a.quit:
			// 排空已入队任务后退出；mailbox 永不 close，
			// 并发中的发送方经 stopped 信号拿到 ErrStopped
			for {
				select {
				case t := <-a.mailbox:
					a.execute(t)
				default:
					close(a.stopped)
					return
				}
			}
		}
	}
}

func (a *Actor) execute(t task) {
	dirty, err := t.fn(&a.snap)
	if err == nil && dirty {
		err = a.persist()
	}
	t.done <- err
}

func (a *Actor) persist() error {
	blob, err := json.Marshal(&a.snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Save(ctx, a.deviceID, blob); err != nil {
		a.log.Error("actor snapshot save failed",
			zap.String("device_id", a.deviceID), zap.Error(err))
		return err
	}
	return nil
}

// Do 在 Actor 的串行上下文中执行 fn。fn 返回 dirty=true 时在返回前持久化。
// 规则引擎经由这里串行化同设备的规则评估（遥测触发与心跳扫描不再竞争）。
func (a *Actor) Do(ctx context.Context, fn func(s *Snapshot) (bool, error)) error {
	select {
	case <-a.ready:
		if a.loadErr != nil {
			return fmt.Errorf("actor not ready: %w", a.loadErr)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case a.mailbox <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrStopped
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		// 排空阶段已执行完的任务结果优先于关闭信号
		select {
		case err := <-t.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// State 当前快照副本（最新样本 + 待处理指令）
func (a *Actor) State(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := a.Do(ctx, func(s *Snapshot) (bool, error) {
		out = *s
		out.Window = append([]coremodel.WindowSample(nil), s.Window...)
		out.Pending = append([]coremodel.Command(nil), s.Pending...)
		out.Toggles = append([]time.Time(nil), s.Toggles...)
		return false, nil
	})
	return out, err
}

// PutState 替换最新快照，持久化成功后才返回
func (a *Actor) PutState(ctx context.Context, sample *coremodel.EnrichedSample) error {
	return a.Do(ctx, func(s *Snapshot) (bool, error) {
		s.Latest = sample
		return true, nil
	})
}

// AppendWindowSample 写入窗口采样并裁剪保留期外的旧点。
// 同 Ts 整点替换：窗口和遥测表一样按 (device, ts) 键控，重投递不产生重复点
func (a *Actor) AppendWindowSample(ctx context.Context, ws coremodel.WindowSample) error {
	return a.Do(ctx, func(s *Snapshot) (bool, error) {
		replaced := false
		for i := range s.Window {
			if s.Window[i].Ts.Equal(ws.Ts) {
				s.Window[i] = ws
				replaced = true
				break
			}
		}
		if !replaced {
			s.Window = append(s.Window, ws)
		}
		s.trimWindow(a.retention)
		return true, nil
	})
}

// trimWindow 以窗口内最新时间为基准裁剪（乱序重放安全）
func (s *Snapshot) trimWindow(retention time.Duration) {
	if len(s.Window) == 0 {
		return
	}
	newest := s.Window[0].Ts
	for _, w := range s.Window {
		if w.Ts.After(newest) {
			newest = w.Ts
		}
	}
	horizon := newest.Add(-retention)
	kept := s.Window[:0]
	for _, w := range s.Window {
		if !w.Ts.Before(horizon) {
			kept = append(kept, w)
		}
	}
	s.Window = kept
}

// EnqueueCommand 追加一条 queued 指令，返回完整指令（含 writeId）
func (a *Actor) EnqueueCommand(ctx context.Context, setpointC float64, reason string, ttl time.Duration) (coremodel.Command, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	var cmd coremodel.Command
	err := a.Do(ctx, func(s *Snapshot) (bool, error) {
		now := a.now()
		cmd = coremodel.Command{
			WriteID:   uuid.NewString(),
			DeviceID:  a.deviceID,
			SetpointC: setpointC,
			Reason:    reason,
			Status:    coremodel.CmdQueued,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		s.Pending = append(s.Pending, cmd)
		return true, nil
	})
	return cmd, err
}

// PollCommands 取最多 max 条待下发指令，置为 dispatching。
// 同时把 TTL 已过期的未终态指令标记 expired 并排除在结果外，
// 顺带清理早已终态的旧条目。
func (a *Actor) PollCommands(ctx context.Context, max int) ([]coremodel.Command, error) {
	if max <= 0 {
		max = 10
	}
	var out []coremodel.Command
	var expired []coremodel.Command
	err := a.Do(ctx, func(s *Snapshot) (bool, error) {
		now := a.now()
		dirty := false

		for i := range s.Pending {
			c := &s.Pending[i]
			if c.Status.Terminal() {
				continue
			}
			if now.After(c.ExpiresAt) {
				c.Status = coremodel.CmdExpired
				c.Detail = "ttl elapsed before acknowledgement"
				expired = append(expired, *c)
				dirty = true
				continue
			}
			if c.Status == coremodel.CmdQueued && len(out) < max {
				c.Status = coremodel.CmdDispatching
				out = append(out, *c)
				dirty = true
			}
		}

		if s.pruneTerminal(now) {
			dirty = true
		}
		return dirty, nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range expired {
		a.log.Warn("command expired before acknowledgement",
			zap.String("device_id", a.deviceID),
			zap.String("write_id", c.WriteID))
	}
	return out, nil
}

// ExpiredSince PollCommands 的附属查询：用于审计层补记过期指令
func (a *Actor) ExpiredSince(ctx context.Context) ([]coremodel.Command, error) {
	var out []coremodel.Command
	err := a.Do(ctx, func(s *Snapshot) (bool, error) {
		for _, c := range s.Pending {
			if c.Status == coremodel.CmdExpired {
				out = append(out, c)
			}
		}
		return false, nil
	})
	return out, err
}

// pruneTerminal 终态指令保留到 TTL 后一天，之后从快照剔除（审计行在 writes 表）
func (s *Snapshot) pruneTerminal(now time.Time) bool {
	const grace = 24 * time.Hour
	kept := s.Pending[:0]
	pruned := false
	for _, c := range s.Pending {
		if c.Status.Terminal() && now.Sub(c.ExpiresAt) > grace {
			pruned = true
			continue
		}
		kept = append(kept, c)
	}
	s.Pending = kept
	return pruned
}

// ErrUnknownWrite 指令不存在（既不在途也非近期终态）
var ErrUnknownWrite = errors.New("unknown write id")

// Acknowledge 设备回执：applied/failed。已终态指令重复回执是幂等 no-op。
// 返回回执后的指令与"本次是否发生状态变迁"。
func (a *Actor) Acknowledge(ctx context.Context, writeID string, status coremodel.CommandStatus, detail string) (coremodel.Command, bool, error) {
	if status != coremodel.CmdApplied && status != coremodel.CmdFailed {
		return coremodel.Command{}, false, fmt.Errorf("invalid ack status %q", status)
	}
	var cmd coremodel.Command
	var changed bool
	err := a.Do(ctx, func(s *Snapshot) (bool, error) {
		for i := range s.Pending {
			c := &s.Pending[i]
			if c.WriteID != writeID {
				continue
			}
			cmd = *c
			if c.Status.Terminal() {
				return false, nil // 幂等：不报错也不覆盖
			}
			now := a.now()
			c.Status = status
			c.Detail = detail
			c.AckedAt = &now
			cmd = *c
			changed = true
			return true, nil
		}
		return false, ErrUnknownWrite
	})
	return cmd, changed, err
}

func (a *Actor) stop() {
	close(a.quit)
	<-a.stopped
}
