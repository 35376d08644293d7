// Package transport 负责把桥接层的出站消息推送给控制进程。
package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// 出站消息名称。
const (
	MessageReady        = "ready"
	MessageWorksheets   = "worksheets"
	MessageSchema       = "schema"
	MessageSettings     = "settings"
	MessageSelection    = "selection"
	MessageDialogResult = "dialog-result"
	MessageError        = "error"

	settingPrefix = "setting:"
)

// SettingMessage 返回单个设置项更新的消息名。
func SettingMessage(key string) string {
	return settingPrefix + key
}

// Message 是一条带时间戳的出站消息。
type Message struct {
	Name  string    `json:"name"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

// NewMessage 以当前时间构造消息。
func NewMessage(name string, value any) Message {
	return Message{Name: name, Value: value, Time: time.Now().UTC()}
}

// Publisher 把消息推送给控制进程。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Fanout 把消息同时推送给多个 Publisher。
type Fanout []Publisher

// Publish 实现 Publisher，返回所有失败的合并错误。
func (f Fanout) Publish(ctx context.Context, msg Message) error {
	var err error
	for _, p := range f {
		if p == nil {
			continue
		}
		err = errors.Join(err, p.Publish(ctx, msg))
	}
	return err
}

// Recorder 在内存中保存所有消息，并保留每个名称的最新值。
type Recorder struct {
	mu       sync.RWMutex
	messages []Message
	latest   map[string]Message
	notify   chan struct{}
}

// NewRecorder 创建 Recorder。
func NewRecorder() *Recorder {
	return &Recorder{latest: make(map[string]Message), notify: make(chan struct{})}
}

// Publish 实现 Publisher。
func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.latest[msg.Name] = msg
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
	return nil
}

// Messages 返回按推送顺序排列的所有消息。
func (r *Recorder) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Message(nil), r.messages...)
}

// Latest 返回某个名称的最新消息。
func (r *Recorder) Latest(name string) (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.latest[name]
	return msg, ok
}

// Wait 阻塞直到出现名为 name 的消息或上下文结束。
func (r *Recorder) Wait(ctx context.Context, name string) (Message, error) {
	var found Message
	err := r.WaitFor(ctx, func(msgs []Message) bool {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Name == name {
				found = msgs[i]
				return true
			}
		}
		return false
	})
	return found, err
}

// WaitFor 阻塞直到 cond 对已记录的消息返回 true 或上下文结束。
func (r *Recorder) WaitFor(ctx context.Context, cond func([]Message) bool) error {
	for {
		r.mu.RLock()
		ok := cond(r.messages)
		notify := r.notify
		r.mu.RUnlock()
		if ok {
			return nil
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
