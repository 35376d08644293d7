// Package ready 提供宿主运行时初始化完成的一次性信号。
package ready

import (
	"context"
	"sync"

	xerrors "VizBridge/internal/errors"
)

// Gate 是只能被兑现一次的就绪信号。所有访问工作区的组件都必须先等待它。
type Gate struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewGate 创建一个尚未就绪的 Gate。
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Fulfill 标记宿主初始化成功。只有第一次 Fulfill 或 Reject 生效，返回值表示本次调用是否生效。
func (g *Gate) Fulfill() bool {
	return g.settle(nil)
}

// Reject 标记宿主初始化失败，所有等待者都会收到同一个错误。
func (g *Gate) Reject(cause error) bool {
	if cause == nil {
		cause = xerrors.New(xerrors.CodeInitFailure, "")
	} else if xerrors.CodeOf(cause) != xerrors.CodeInitFailure {
		cause = xerrors.Wrap(xerrors.CodeInitFailure, cause, "")
	}
	return g.settle(cause)
}

func (g *Gate) settle(err error) bool {
	settled := false
	g.once.Do(func() {
		g.err = err
		close(g.done)
		settled = true
	})
	return settled
}

// Await 阻塞直到 Gate 进入终态，或调用方的上下文被取消。
func (g *Gate) Await(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitHost 与 Await 相同，但把初始化失败报告为 HOST_UNAVAILABLE，供访问工作区的调用方使用。
func (g *Gate) AwaitHost(ctx context.Context) error {
	err := g.Await(ctx)
	if err != nil && xerrors.HasCode(err, xerrors.CodeInitFailure) {
		return xerrors.Wrap(xerrors.CodeHostUnavailable, err, "")
	}
	return err
}

// Done 返回在 Gate 进入终态时关闭的 channel。
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Err 返回终态错误；尚未结束或已成功时返回 nil。
func (g *Gate) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Settled 判断 Gate 是否已进入终态。
func (g *Gate) Settled() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
