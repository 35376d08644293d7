package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"VizBridge/internal/dataspec"
	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
	"VizBridge/internal/ready"
	"VizBridge/internal/settings"
	"VizBridge/pkg/logger"
)

// SettingsWriter 是 saveSettings 依赖的设置写入路径。
type SettingsWriter interface {
	Save(ctx context.Context, values map[string]any, opts settings.SaveOptions) error
}

// Observer 接收每个请求的处理结果，用于指标。
type Observer interface {
	ObserveRPC(method, outcome string, elapsed time.Duration)
}

// Bridge 执行控制进程发来的调用，每个请求恰好发送一次响应。
// 请求之间互不串行，响应按完成顺序送达。
type Bridge struct {
	gate      *ready.Gate
	workspace host.Workspace
	resolver  *dataspec.Resolver
	settings  SettingsWriter
	responder Responder
	observer  Observer
	onFailure func(context.Context, error)
	log       *slog.Logger
}

// Option 定义 Bridge 的可选配置。
type Option func(*Bridge)

// WithObserver 配置指标观察者。
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// WithDeliveryFailureHook 在响应送达失败时回调，用于告警。
func WithDeliveryFailureHook(fn func(context.Context, error)) Option {
	return func(b *Bridge) { b.onFailure = fn }
}

// NewBridge 创建 Bridge。
func NewBridge(gate *ready.Gate, ws host.Workspace, sw SettingsWriter, responder Responder, opts ...Option) *Bridge {
	b := &Bridge{
		gate:      gate,
		workspace: ws,
		resolver:  dataspec.NewResolver(ws),
		settings:  sw,
		responder: responder,
		log:       logger.Named("rpc"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Handle 执行请求并发送唯一的响应。处理函数的错误与 panic 都会转换为错误响应。
func (b *Bridge) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	log := b.log.With(slog.String("id", req.ID), slog.String("method", req.Method))
	log.Debug("收到调用请求", slog.String("state", StateReceived.String()))

	result, err := b.execute(ctx, req, log)
	if err == nil {
		err = encodable(result)
	}
	state := StateCompleted
	resp := Response{ID: req.ID, Result: result}
	if err != nil {
		state = StateFailed
		resp = Response{ID: req.ID, Error: errorMessage(err)}
		log.Warn("调用失败", slog.String("state", state.String()), slog.Any("error", err))
	}

	sendErr := b.responder.Send(ctx, resp)
	if sendErr != nil {
		log.Error("发送调用响应失败", slog.Any("error", sendErr))
		if b.onFailure != nil {
			b.onFailure(ctx, sendErr)
		}
	} else {
		state = StateSent
	}

	elapsed := time.Since(start)
	outcome := "ok"
	if resp.Failed() {
		outcome = "error"
	}
	if b.observer != nil {
		b.observer.ObserveRPC(req.Method, outcome, elapsed)
	}
	logger.Audit().Info("rpc",
		slog.String("id", req.ID),
		slog.String("method", req.Method),
		slog.String("state", state.String()),
		slog.String("outcome", outcome),
		slog.Bool("delivered", sendErr == nil),
		slog.Duration("elapsed", elapsed))
	return resp
}

func (b *Bridge) execute(ctx context.Context, req Request, log *slog.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("调用处理发生 panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			result = nil
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	call, err := DecodeCall(req.Method, req.Args)
	if err != nil {
		return nil, err
	}
	log.Debug("分发调用", slog.String("state", StateDispatching.String()))
	return b.Dispatch(ctx, call)
}

// Dispatch 执行已解码的调用。
func (b *Bridge) Dispatch(ctx context.Context, call Call) (any, error) {
	switch c := call.(type) {
	case GetData:
		return b.getData(ctx, c)
	case SaveSettings:
		return nil, b.settings.Save(ctx, c.Settings, c.Options)
	case SelectMarksByValue:
		return nil, b.selectMarksByValue(ctx, c)
	case SelectMarksByValue2:
		return nil, b.selectMarksByValue2(ctx, c)
	default:
		return nil, xerrors.New(CodeUnknownMethod, fmt.Sprintf("method %q does not exist", call.Method()))
	}
}

func (b *Bridge) getData(ctx context.Context, c GetData) (any, error) {
	if err := b.gate.AwaitHost(ctx); err != nil {
		return nil, err
	}
	table, err := b.resolver.Resolve(ctx, c.Spec, c.Options)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, nil
	}
	return NewDataEnvelope(table, c.Options.Encoding)
}

func (b *Bridge) panel(ctx context.Context, name string) (host.Panel, error) {
	if err := b.gate.AwaitHost(ctx); err != nil {
		return nil, err
	}
	p := host.FindPanel(b.workspace, name)
	if p == nil {
		b.log.Warn("选择目标工作表不存在，忽略", slog.String("worksheet", name))
	}
	return p, nil
}

func (b *Bridge) selectMarksByValue(ctx context.Context, c SelectMarksByValue) error {
	p, err := b.panel(ctx, c.Worksheet)
	if err != nil || p == nil {
		return err
	}
	if err := p.SelectMarksByValue(ctx, c.Criteria, c.Update); err != nil {
		return xerrors.Wrap(xerrors.CodeHostCallFailure, err, "", xerrors.WithMetadata("worksheet", c.Worksheet))
	}
	return nil
}

// selectMarksByValue2 同时发起一次替换选择和每个反向条件项的一次移除选择，并等待全部完成。
func (b *Bridge) selectMarksByValue2(ctx context.Context, c SelectMarksByValue2) error {
	p, err := b.panel(ctx, c.Worksheet)
	if err != nil || p == nil {
		return err
	}
	var g errgroup.Group
	g.Go(func() error {
		return p.SelectMarksByValue(ctx, c.Criteria, host.SelectionReplace)
	})
	for _, group := range c.Inverse {
		for _, item := range group {
			g.Go(func() error {
				return p.SelectMarksByValue(ctx, []host.SelectionCriteria{item}, host.SelectionRemove)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return xerrors.Wrap(xerrors.CodeHostCallFailure, err, "", xerrors.WithMetadata("worksheet", c.Worksheet))
	}
	return nil
}

// encodable 确认结果可以编码为 JSON，否则响应会在发送阶段丢失。
func encodable(result any) error {
	if result == nil {
		return nil
	}
	if _, err := json.Marshal(Response{Result: result}); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "encode result")
	}
	return nil
}

// errorMessage 返回非空的错误文本，保证错误响应不会被当作结果。
func errorMessage(err error) string {
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
		if cause := e.Unwrap(); cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, cause)
		}
	}
	if msg == "" {
		msg = xerrors.AttributesOf(xerrors.CodeUnknown).Message
	}
	return msg
}
