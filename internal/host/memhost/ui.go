package memhost

import (
	"context"
	"errors"
	"sync"
)

// ErrNoDialog 表示当前没有打开的对话框。
var ErrNoDialog = errors.New("没有打开的对话框")

// ErrDialogOpen 表示已经有对话框处于打开状态。
var ErrDialogOpen = errors.New("已有对话框处于打开状态")

// Dialog 记录一次打开的对话框。
type Dialog struct {
	URL     string
	Payload string
	Width   int
	Height  int
}

// DialogHost 实现 host.UI，同一时间只允许一个对话框。
type DialogHost struct {
	mu      sync.Mutex
	current *Dialog
	result  chan string
	history []Dialog
}

// DisplayDialog 打开对话框并阻塞到 CloseDialog 被调用。
func (d *DialogHost) DisplayDialog(ctx context.Context, url, payload string, width, height int) (string, error) {
	d.mu.Lock()
	if d.current != nil {
		d.mu.Unlock()
		return "", ErrDialogOpen
	}
	dlg := Dialog{URL: url, Payload: payload, Width: width, Height: height}
	d.current = &dlg
	d.history = append(d.history, dlg)
	result := make(chan string, 1)
	d.result = result
	d.mu.Unlock()

	select {
	case payload := <-result:
		return payload, nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.result == result {
			d.current = nil
			d.result = nil
		}
		d.mu.Unlock()
		return "", ctx.Err()
	}
}

// CloseDialog 关闭当前对话框并把 payload 交给打开者。
func (d *DialogHost) CloseDialog(payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return ErrNoDialog
	}
	d.result <- payload
	d.current = nil
	d.result = nil
	return nil
}

// Current 返回当前打开的对话框。
func (d *DialogHost) Current() (Dialog, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Dialog{}, false
	}
	return *d.current, true
}

// History 返回打开过的对话框。
func (d *DialogHost) History() []Dialog {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dialog(nil), d.history...)
}
