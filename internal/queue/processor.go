package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/observability/alerting"
	"VizBridge/internal/rpc"
	"VizBridge/pkg/logger"
)

// RequestHandler 执行一次调用并负责发送响应。
type RequestHandler interface {
	Handle(ctx context.Context, req rpc.Request) rpc.Response
}

// Processor 从队列消费调用请求并交给 RPC 桥执行。
// 消费协程只负责取出与解码，每个请求在独立的 goroutine 中执行，
// 挂起的宿主调用不会阻塞后续请求。
type Processor struct {
	handler     RequestHandler
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	inflight    sync.WaitGroup
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置从队列取消息的消费协程数量，不限制同时执行的请求数。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(handler RequestHandler, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handler:     handler,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("queue"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，直到上下文结束，并等待已分发的请求完成。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.handler == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "处理器未初始化")
	}
	err := p.consumer.Consume(ctx, p.workerCount, p.handle)
	p.inflight.Wait()
	return err
}

func (p *Processor) dispatch(ctx context.Context, req rpc.Request) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.handler.Handle(ctx, req)
	}()
}

// handle 解码请求载荷。无法解码但能取得 id 的载荷仍会得到一个错误响应。
func (p *Processor) handle(ctx context.Context, payload []byte) error {
	var req rpc.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		var partial struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(payload, &partial) == nil && partial.ID != "" {
			p.dispatch(ctx, rpc.Request{ID: partial.ID})
			return nil
		}
		wrapped := xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析队列中的调用请求", xerrors.WithAlert(true))
		p.logger.Warn("丢弃无法解析的调用请求", slog.Any("error", err), slog.Int("bytes", len(payload)))
		alerting.Raise(ctx, p.alerter, "queue", wrapped)
		return wrapped
	}
	p.dispatch(ctx, req)
	return nil
}

// Enqueue 编码请求并投递到队列。
func Enqueue(ctx context.Context, producer Producer, req rpc.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用请求失败")
	}
	return producer.Publish(ctx, payload)
}
