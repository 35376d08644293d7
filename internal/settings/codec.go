// Package settings 在宿主设置存储与控制进程之间同步带类型的键值。
package settings

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Encode 把带类型的值编码为宿主存储使用的 JSON 文本。
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Decode 把宿主存储中的 JSON 文本解码为带类型的值，非法文本返回 false。
func Decode(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// DecodeAll 解码整个快照，解码失败的键视为不存在。
func DecodeAll(raw map[string]string) (map[string]any, []string) {
	out := make(map[string]any, len(raw))
	var dropped []string
	for k, v := range raw {
		decoded, ok := Decode(v)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		out[k] = decoded
	}
	sort.Strings(dropped)
	return out, dropped
}

// Update 是推送给控制进程的单个设置项变化。Removed 为 true 时 Value 为 nil。
type Update struct {
	Key     string
	Value   any
	Removed bool
}

// Diff 比较两个已解码的快照，返回删除的键和新增或变化的键，按键名排序。
func Diff(prev, next map[string]any) []Update {
	var updates []Update
	for k := range prev {
		if _, ok := next[k]; !ok {
			updates = append(updates, Update{Key: k, Removed: true})
		}
	}
	for k, v := range next {
		if old, ok := prev[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		updates = append(updates, Update{Key: k, Value: v})
	}
	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Removed != updates[j].Removed {
			return updates[i].Removed
		}
		return updates[i].Key < updates[j].Key
	})
	return updates
}

// Reconcile 解码宿主快照并与上一次推送的快照比较，返回新的快照、需要推送的变化和无法解码的键。
func Reconcile(prev map[string]any, raw map[string]string) (next map[string]any, updates []Update, dropped []string) {
	next, dropped = DecodeAll(raw)
	return next, Diff(prev, next), dropped
}
