package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Message) error { return f.err }

func TestFanoutPublishesToAll(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	boom := errors.New("boom")
	err := Fanout{a, failingPublisher{err: boom}, b}.Publish(context.Background(), NewMessage(MessageReady, true))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.Messages()) != 1 || len(b.Messages()) != 1 {
		t.Fatalf("expected both recorders to receive the message")
	}
}

func TestRecorderWait(t *testing.T) {
	r := NewRecorder()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Publish(context.Background(), NewMessage(SettingMessage("color"), "red"))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := r.Wait(ctx, "setting:color")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if msg.Value != "red" {
		t.Fatalf("unexpected value %v", msg.Value)
	}
}

func TestHubBroadcastsToWebsocketClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// 注册是异步的，重复推送直到客户端收到消息。
	received := make(chan Message, 1)
	go func() {
		var msg Message
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}()
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case msg := <-received:
			if msg.Name != MessageReady {
				t.Fatalf("unexpected message %+v", msg)
			}
			return
		case <-ticker.C:
			hub.Publish(ctx, NewMessage(MessageReady, true))
		case <-deadline:
			t.Fatalf("websocket client never received a message")
		}
	}
}
