package settings

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
	"VizBridge/internal/ready"
	"VizBridge/internal/transport"
	"VizBridge/pkg/logger"
)

// SaveOptions 控制写入方式。Add 为 false 时先删除传入映射中不存在的宿主键。
type SaveOptions struct {
	Save bool `json:"save"`
	Add  bool `json:"add"`
}

// Synchronizer 负责设置的双向同步，持有最近一次推送给控制进程的快照。
//
// 宿主推送路径与控制进程的非增量写入之间没有串行化：两者交错时以最后完成的写入为准，
// 之后宿主的变更事件会把实际结果重新推送给控制进程。
// 多次 Apply 之间串行执行，推送顺序与快照更新顺序一致。
type Synchronizer struct {
	gate      *ready.Gate
	store     host.Settings
	publisher transport.Publisher
	onFailure func(context.Context, error)
	log       *slog.Logger

	applyMu sync.Mutex
	mu      sync.Mutex
	last    map[string]any
}

// Option 定义 Synchronizer 的可选配置。
type Option func(*Synchronizer)

// WithFailureHook 在持久化失败时回调，用于告警。
func WithFailureHook(fn func(context.Context, error)) Option {
	return func(s *Synchronizer) { s.onFailure = fn }
}

// New 创建 Synchronizer。
func New(gate *ready.Gate, store host.Settings, publisher transport.Publisher, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		gate:      gate,
		store:     store,
		publisher: publisher,
		log:       logger.Named("settings"),
		last:      map[string]any{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Refresh 读取宿主当前的完整快照并推送变化。
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if err := s.gate.Await(ctx); err != nil {
		return err
	}
	return s.Apply(ctx, s.store.GetAll())
}

// Apply 处理一次宿主侧的设置快照：推送被删除键的 null、新增或变化的值，以及完整快照。
func (s *Synchronizer) Apply(ctx context.Context, raw map[string]string) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	next, updates, dropped := Reconcile(s.last, raw)
	s.last = next
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.log.Warn("忽略无法解码的设置项", slog.Any("keys", dropped))
	}

	var errs error
	for _, u := range updates {
		var value any
		if !u.Removed {
			value = u.Value
		}
		errs = errors.Join(errs, s.publisher.Publish(ctx, transport.NewMessage(transport.SettingMessage(u.Key), value)))
	}
	errs = errors.Join(errs, s.publisher.Publish(ctx, transport.NewMessage(transport.MessageSettings, cloneValues(next))))
	return errs
}

// Snapshot 返回最近一次推送的已解码快照。
func (s *Synchronizer) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneValues(s.last)
}

// Save 把控制进程传入的设置写入宿主。值为 nil 的键被删除，其余键写入 JSON 文本。
// opts.Save 为 true 时持久化；持久化失败返回 PERSISTENCE_FAILURE，已写入内存的修改不回滚。
func (s *Synchronizer) Save(ctx context.Context, values map[string]any, opts SaveOptions) error {
	encoded := make(map[string]string, len(values))
	for k, v := range values {
		if v == nil {
			continue
		}
		text, err := Encode(v)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法编码设置项", xerrors.WithMetadata("key", k))
		}
		encoded[k] = text
	}

	if err := s.gate.Await(ctx); err != nil {
		return err
	}

	if !opts.Add {
		for k := range s.store.GetAll() {
			if _, ok := values[k]; !ok {
				s.store.Erase(k)
			}
		}
	}
	for k := range values {
		if text, ok := encoded[k]; ok {
			s.store.Set(k, text)
		} else {
			s.store.Erase(k)
		}
	}
	if !opts.Save {
		return nil
	}
	if err := s.store.Save(ctx); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodePersistenceFailure, err, "")
		s.log.Error("持久化设置失败", slog.Any("error", err))
		if s.onFailure != nil {
			s.onFailure(ctx, wrapped)
		}
		return wrapped
	}
	return nil
}

func cloneValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
