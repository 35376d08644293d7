package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	xerrors "VizBridge/internal/errors"
)

func TestNewSettingsStoreRequiresClient(t *testing.T) {
	if _, err := NewSettingsStore(nil, ""); !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	if _, err := Connect(context.Background(), ClientConfig{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

// 需要真实 Redis：设置 VIZBRIDGE_TEST_REDIS_ADDR 后运行。
func TestSettingsStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("VIZBRIDGE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VIZBRIDGE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, ClientConfig{Address: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	key := "vizbridge:test:" + uuid.NewString()
	defer client.Del(ctx, key)
	store, err := NewSettingsStore(client, key)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if got, err := store.Load(ctx); err != nil || got != nil {
		t.Fatalf("expected empty load, got %v %v", got, err)
	}
	if err := store.Store(ctx, map[string]string{"a": "1", "b": `"x"`}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Store(ctx, map[string]string{"b": `"y"`}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got["b"] != `"y"` {
		t.Fatalf("snapshot not replaced: %v", got)
	}
}
