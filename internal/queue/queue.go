// Package queue 缓冲控制进程发来的调用请求，并由多个工作协程交给 RPC 桥执行。
package queue

import (
	"context"
)

// Handler 处理一条来自队列的请求载荷。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递请求。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费请求。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
