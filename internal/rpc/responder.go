package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	xerrors "VizBridge/internal/errors"
)

// Responder 把响应送回控制进程。
type Responder interface {
	Send(ctx context.Context, resp Response) error
}

// ResponderFunc 把函数适配为 Responder。
type ResponderFunc func(ctx context.Context, resp Response) error

// Send 实现 Responder。
func (f ResponderFunc) Send(ctx context.Context, resp Response) error { return f(ctx, resp) }

// CallbackURL 保存控制进程在初始化时登记的回调地址。
type CallbackURL struct {
	mu  sync.RWMutex
	url string
}

// Set 校验并登记回调地址。
func (c *CallbackURL) Set(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid callback url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return xerrors.New(xerrors.CodeInvalidArgument, "callback url must be http or https")
	}
	c.mu.Lock()
	c.url = raw
	c.mu.Unlock()
	return nil
}

// Get 返回当前登记的回调地址，未登记时为空。
func (c *CallbackURL) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// HTTPResponder 以 POST 把响应发送到回调地址，请求 ID 放在查询参数 id 中。
type HTTPResponder struct {
	callback *CallbackURL
	client   *http.Client
}

// NewHTTPResponder 创建 HTTPResponder。timeout 为零时不设置超时。
func NewHTTPResponder(callback *CallbackURL, timeout time.Duration) *HTTPResponder {
	return &HTTPResponder{callback: callback, client: &http.Client{Timeout: timeout}}
}

// Send 实现 Responder。
func (r *HTTPResponder) Send(ctx context.Context, resp Response) error {
	base := r.callback.Get()
	if base == "" {
		return xerrors.New(CodeCallbackFailure, "callback url is not registered")
	}
	target, err := withID(base, resp.ID)
	if err != nil {
		return xerrors.Wrap(CodeCallbackFailure, err, "")
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return xerrors.Wrap(CodeCallbackFailure, err, "encode response")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(CodeCallbackFailure, err, "")
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := r.client.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeCallbackFailure, err, "", xerrors.WithMetadata("id", resp.ID))
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode >= http.StatusMultipleChoices {
		return xerrors.New(CodeCallbackFailure, fmt.Sprintf("callback returned status %d", res.StatusCode), xerrors.WithMetadata("id", resp.ID))
	}
	return nil
}

func withID(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
