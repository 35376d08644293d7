// Package session 把宿主运行时、就绪信号与各同步组件组装为一次扩展会话。
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
	"VizBridge/internal/observability/alerting"
	"VizBridge/internal/ready"
	"VizBridge/internal/rpc"
	"VizBridge/internal/schema"
	"VizBridge/internal/settings"
	"VizBridge/internal/transport"
	"VizBridge/pkg/logger"
)

// 配置对话框的固定尺寸。
const (
	DialogWidth  = 600
	DialogHeight = 400
)

// SelectionEvent 是 selection 消息的值。
type SelectionEvent struct {
	Worksheet string    `json:"worksheet"`
	At        time.Time `json:"at"`
}

// Session 持有一次扩展会话的全部组件。所有组件共享同一个就绪信号。
type Session struct {
	id        string
	runtime   host.Runtime
	gate      *ready.Gate
	publisher transport.Publisher
	callback  *rpc.CallbackURL
	collector *schema.Collector
	settings  *settings.Synchronizer
	bridge    *rpc.Bridge
	alerts    alerting.Dispatcher
	log       *slog.Logger

	baseURL         string
	callbackTimeout time.Duration
	eventBuffer     int
	responder       rpc.Responder
	rpcObserver     rpc.Observer
	schemaObserver  func(time.Duration, error)
}

// Option 定义 Session 的可选配置。
type Option func(*Session)

// WithBaseURL 设置扩展页面地址，配置对话框基于它打开。
func WithBaseURL(u string) Option {
	return func(s *Session) { s.baseURL = u }
}

// WithCallbackTimeout 设置 RPC 回调请求的超时时间。
func WithCallbackTimeout(d time.Duration) Option {
	return func(s *Session) { s.callbackTimeout = d }
}

// WithEventBuffer 设置宿主事件订阅的缓冲区大小。
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.eventBuffer = n }
}

// WithResponder 替换默认的 HTTP 回调响应器。
func WithResponder(r rpc.Responder) Option {
	return func(s *Session) { s.responder = r }
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(s *Session) { s.alerts = d }
}

// WithRPCObserver 配置 RPC 指标观察者。
func WithRPCObserver(o rpc.Observer) Option {
	return func(s *Session) { s.rpcObserver = o }
}

// WithSchemaObserver 配置快照收集耗时观察者。
func WithSchemaObserver(fn func(time.Duration, error)) Option {
	return func(s *Session) { s.schemaObserver = fn }
}

// New 组装会话。组件在 Run 之前即可接收请求，它们会等待就绪信号。
func New(rt host.Runtime, publisher transport.Publisher, opts ...Option) *Session {
	s := &Session{
		id:              uuid.NewString(),
		runtime:         rt,
		gate:            ready.NewGate(),
		publisher:       publisher,
		callback:        &rpc.CallbackURL{},
		callbackTimeout: 10 * time.Second,
		eventBuffer:     64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.publisher == nil {
		s.publisher = transport.Fanout{}
	}
	s.log = logger.Named("session").With(slog.String("session", s.id))
	if s.responder == nil {
		s.responder = rpc.NewHTTPResponder(s.callback, s.callbackTimeout)
	}

	ws := rt.Workspace()
	s.collector = schema.NewCollector(s.gate, ws, schema.WithObserver(s.schemaObserver))
	s.settings = settings.New(s.gate, rt.Settings(), s.publisher,
		settings.WithFailureHook(s.alertHook("settings")))
	s.bridge = rpc.NewBridge(s.gate, ws, s.settings, s.responder,
		rpc.WithObserver(s.rpcObserver),
		rpc.WithDeliveryFailureHook(s.alertHook("rpc")))
	return s
}

func (s *Session) alertHook(component string) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		alerting.Raise(ctx, s.alerts, component, err)
	}
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Gate 返回会话的就绪信号。
func (s *Session) Gate() *ready.Gate { return s.gate }

// Bridge 返回 RPC 桥，作为请求队列的处理器。
func (s *Session) Bridge() *rpc.Bridge { return s.bridge }

// Settings 返回设置同步器。
func (s *Session) Settings() *settings.Synchronizer { return s.settings }

// Init 登记控制进程的回调地址。可以重复调用，后一次覆盖前一次。
func (s *Session) Init(callbackURL string) error {
	if err := s.callback.Set(callbackURL); err != nil {
		return err
	}
	s.log.Info("已登记回调地址", slog.String("callback", callbackURL))
	return nil
}

// SaveSettings 处理控制进程的设置写入命令。
func (s *Session) SaveSettings(ctx context.Context, values map[string]any, opts settings.SaveOptions) error {
	return s.settings.Save(ctx, values, opts)
}

// CloseDialog 以返回值关闭当前对话框。
func (s *Session) CloseDialog(payload string) error {
	if err := s.runtime.UI().CloseDialog(payload); err != nil {
		return xerrors.Wrap(xerrors.CodeHostCallFailure, err, "关闭对话框失败")
	}
	return nil
}

// Schema 每次调用都重新收集，反映工作区的当前状态。
func (s *Session) Schema(ctx context.Context) (*schema.Schema, error) {
	return s.collector.Collect(ctx)
}

// Run 初始化宿主、推送启动消息并处理宿主事件，直到 ctx 结束。
// 宿主初始化失败时拒绝就绪信号并返回该错误。
func (s *Session) Run(ctx context.Context) error {
	events, cancel := s.runtime.Subscribe(s.eventBuffer)
	defer cancel()

	if err := s.initialize(ctx); err != nil {
		return err
	}
	s.startup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("会话结束")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) initialize(ctx context.Context) error {
	start := time.Now()
	if err := s.runtime.Initialize(ctx); err != nil {
		s.gate.Reject(err)
		gateErr := s.gate.Err()
		s.log.Error("宿主初始化失败", slog.Any("error", err))
		alerting.Raise(ctx, s.alerts, "session", gateErr)
		s.publish(ctx, transport.MessageError, xerrors.PayloadOf(gateErr))
		return gateErr
	}
	s.gate.Fulfill()
	s.log.Info("宿主初始化完成", slog.Duration("elapsed", time.Since(start)))
	s.publish(ctx, transport.MessageReady, map[string]string{"session": s.id})
	return nil
}

func (s *Session) startup(ctx context.Context) {
	names := make([]string, 0)
	for _, p := range s.runtime.Workspace().Panels() {
		names = append(names, p.Name())
	}
	s.publish(ctx, transport.MessageWorksheets, names)

	if sc, err := s.Schema(ctx); err != nil {
		s.publish(ctx, transport.MessageError, xerrors.PayloadOf(err))
	} else {
		s.publish(ctx, transport.MessageSchema, sc)
	}

	if err := s.settings.Refresh(ctx); err != nil {
		s.log.Error("推送初始设置失败", slog.Any("error", err))
	}
}

func (s *Session) handleEvent(ctx context.Context, ev host.Event) {
	switch ev.Type {
	case host.EventSettingsChanged:
		if err := s.settings.Apply(ctx, ev.Settings); err != nil {
			s.log.Error("处理设置变更事件失败", slog.Any("error", err))
		}
	case host.EventMarkSelectionChanged:
		s.publish(ctx, transport.MessageSelection, SelectionEvent{Worksheet: ev.Panel, At: ev.At})
	case host.EventConfigure:
		go s.configure(ctx)
	default:
		s.log.Debug("忽略未知宿主事件", slog.String("type", string(ev.Type)))
	}
}

// configure 打开配置对话框并在关闭后推送返回值。
func (s *Session) configure(ctx context.Context) {
	target, err := configureURL(s.baseURL)
	if err != nil {
		s.log.Error("构造配置对话框地址失败", slog.Any("error", err))
		return
	}
	s.log.Info("打开配置对话框", slog.String("url", target))
	result, err := s.runtime.UI().DisplayDialog(ctx, target, "", DialogWidth, DialogHeight)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error("配置对话框失败", slog.Any("error", err))
		}
		return
	}
	s.publish(ctx, transport.MessageDialogResult, result)
}

func configureURL(base string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(&url.URL{RawQuery: "mode=configure"}).String(), nil
}

func (s *Session) publish(ctx context.Context, name string, value any) {
	if err := s.publisher.Publish(ctx, transport.NewMessage(name, value)); err != nil {
		s.log.Warn("推送消息失败", slog.String("message", name), slog.Any("error", err))
	}
}
