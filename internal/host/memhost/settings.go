package memhost

import (
	"context"
	"fmt"
	"sync"

	"VizBridge/internal/host"
)

type settingsStore struct {
	rt        *Runtime
	mu        sync.Mutex
	values    map[string]string
	persister SettingsPersister
	maxBytes  int
}

func newSettingsStore(rt *Runtime, initial map[string]string) *settingsStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &settingsStore{rt: rt, values: values}
}

// load 在初始化阶段用持久化内容覆盖描述文件中的初始设置。
func (s *settingsStore) load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	stored, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("加载持久化设置失败: %w", err)
	}
	if stored == nil {
		return nil
	}
	s.mu.Lock()
	s.values = stored
	s.mu.Unlock()
	return nil
}

func (s *settingsStore) GetAll() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSettings(s.values)
}

func (s *settingsStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *settingsStore) Erase(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *settingsStore) Save(ctx context.Context) error {
	snapshot := s.GetAll()
	if s.maxBytes > 0 {
		size := 0
		for k, v := range snapshot {
			size += len(k) + len(v)
		}
		if size > s.maxBytes {
			return fmt.Errorf("设置大小 %d 字节超过宿主上限 %d 字节", size, s.maxBytes)
		}
	}
	if s.persister != nil {
		if err := s.persister.Store(ctx, snapshot); err != nil {
			return err
		}
	}
	s.rt.Emit(host.Event{Type: host.EventSettingsChanged, Settings: snapshot})
	return nil
}

func cloneSettings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
