package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher 通过 Redis Pub/Sub 频道推送出站消息。
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher 创建基于 Redis 频道的 Publisher。
func NewRedisPublisher(client redis.UniversalClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client 不能为空")
	}
	if channel == "" {
		channel = "vizbridge:messages"
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化出站消息失败: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("发布出站消息到 Redis 失败: %w", err)
	}
	return nil
}

// Subscribe 订阅出站消息频道，供控制进程侧使用。返回的 channel 在上下文结束时关闭。
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Message, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
