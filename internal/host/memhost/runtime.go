// Package memhost 是进程内的宿主运行时实现，工作区内容来自静态描述文件。
// 守护进程在没有真实宿主时运行它，测试也用它驱动桥接层。
package memhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"VizBridge/internal/host"
	"VizBridge/pkg/logger"
)

// SettingsPersister 负责宿主设置的持久化。
type SettingsPersister interface {
	Load(ctx context.Context) (map[string]string, error)
	Store(ctx context.Context, values map[string]string) error
}

// Runtime 实现 host.Runtime。
type Runtime struct {
	initDelay time.Duration
	initErr   error
	callDelay time.Duration

	mu     sync.RWMutex
	panels []*panel
	failed map[string]error
	subs   map[int]*subscriber
	nextID int

	sources  map[string]*dataSource
	settings *settingsStore
	ui       *DialogHost

	dataSourceCalls   atomic.Int64
	logicalTableCalls sync.Map // id -> *atomic.Int64
}

// Option 定义 Runtime 的可选配置。
type Option func(*Runtime)

// WithInitDelay 模拟宿主初始化耗时。
func WithInitDelay(d time.Duration) Option {
	return func(r *Runtime) { r.initDelay = d }
}

// WithInitError 让 Initialize 返回指定错误。
func WithInitError(err error) Option {
	return func(r *Runtime) { r.initErr = err }
}

// WithCallDelay 为每次宿主查询增加延迟，便于观察并发交错。
func WithCallDelay(d time.Duration) Option {
	return func(r *Runtime) { r.callDelay = d }
}

// WithPersister 配置设置的持久化后端。
func WithPersister(p SettingsPersister) Option {
	return func(r *Runtime) { r.settings.persister = p }
}

// WithMaxSettingsBytes 限制设置总大小，超出时 Save 失败。
func WithMaxSettingsBytes(n int) Option {
	return func(r *Runtime) { r.settings.maxBytes = n }
}

// New 根据工作区描述构造运行时。
func New(fx *Fixture, opts ...Option) *Runtime {
	if fx == nil {
		fx = &Fixture{}
	}
	r := &Runtime{
		failed:  make(map[string]error),
		subs:    make(map[int]*subscriber),
		sources: make(map[string]*dataSource, len(fx.DataSources)),
	}
	r.settings = newSettingsStore(r, fx.Settings)
	r.ui = &DialogHost{}
	for _, dsf := range fx.DataSources {
		r.sources[dsf.ID] = newDataSource(r, dsf)
	}
	for _, wsf := range fx.Worksheets {
		r.panels = append(r.panels, newPanel(r, wsf))
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Initialize 实现 host.Runtime。
func (r *Runtime) Initialize(ctx context.Context) error {
	if r.initDelay > 0 {
		select {
		case <-time.After(r.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.initErr != nil {
		return r.initErr
	}
	return r.settings.load(ctx)
}

// Workspace 实现 host.Runtime。
func (r *Runtime) Workspace() host.Workspace { return r }

// Settings 实现 host.Runtime。
func (r *Runtime) Settings() host.Settings { return r.settings }

// UI 实现 host.Runtime。
func (r *Runtime) UI() host.UI { return r.ui }

// Panels 实现 host.Workspace。
func (r *Runtime) Panels() []host.Panel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]host.Panel, len(r.panels))
	for i, p := range r.panels {
		out[i] = p
	}
	return out
}

// Subscribe 实现 host.Runtime。
func (r *Runtime) Subscribe(buffer int) (<-chan host.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := newSubscriber(buffer)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	r.mu.Unlock()
	go sub.run()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(sub.done)
		})
	}
}

// Emit 向所有订阅者推送事件。事件不会丢弃，尚未送达的设置快照被更新的快照取代。
func (r *Runtime) Emit(ev host.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subs {
		sub.push(ev)
	}
}

// subscriber 在订阅者的 channel 之前维护一个待投递队列。
type subscriber struct {
	out  chan host.Event
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []host.Event
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		out:  make(chan host.Event, buffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscriber) push(ev host.Event) {
	s.mu.Lock()
	if ev.Type == host.EventSettingsChanged {
		kept := s.pending[:0]
		for _, p := range s.pending {
			if p.Type != host.EventSettingsChanged {
				kept = append(kept, p)
			}
		}
		if replaced := len(s.pending) - len(kept); replaced > 0 {
			logger.Named("memhost").Debug("合并未送达的设置快照", slog.Int("replaced", replaced))
		}
		s.pending = kept
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) next() (host.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return host.Event{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// TriggerConfigure 模拟用户在宿主中点击“配置”。
func (r *Runtime) TriggerConfigure() {
	r.Emit(host.Event{Type: host.EventConfigure})
}

// RemovePanel 从工作区移除 Panel，模拟内容在会话中发生变化。
func (r *Runtime) RemovePanel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.panels[:0]
	for _, p := range r.panels {
		if p.name != name {
			kept = append(kept, p)
		}
	}
	r.panels = kept
}

// FailOn 让名为 key 的 Panel 或 ID 为 key 的数据源上的查询返回 err。
func (r *Runtime) FailOn(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failed, key)
		return
	}
	r.failed[key] = err
}

// DataSourceFetches 返回 Panel.DataSources 的调用次数。
func (r *Runtime) DataSourceFetches() int64 {
	return r.dataSourceCalls.Load()
}

// LogicalTableFetches 返回某数据源 LogicalTables 的调用次数，即该数据源被收集的次数。
func (r *Runtime) LogicalTableFetches(id string) int64 {
	if v, ok := r.logicalTableCalls.Load(id); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Selections 返回某个 Panel 收到的按值选择调用。
func (r *Runtime) Selections(name string) []SelectionCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.panels {
		if p.name == name {
			return p.selectionHistory()
		}
	}
	return nil
}

// Dialogs 返回对话框状态，供调用方检查。
func (r *Runtime) Dialogs() *DialogHost { return r.ui }

func (r *Runtime) hostCall(ctx context.Context, key string) error {
	if r.callDelay > 0 {
		select {
		case <-time.After(r.callDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.RLock()
	err := r.failed[key]
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("宿主调用失败(%s): %w", key, err)
	}
	return nil
}

func (r *Runtime) countLogicalTables(id string) {
	v, _ := r.logicalTableCalls.LoadOrStore(id, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}
