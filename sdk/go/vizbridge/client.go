// Package vizbridge is a Go client for the VizBridge control API. It submits
// RPC calls and receives their correlated results through an embedded
// callback handler.
package vizbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Method names accepted by Call.
const (
	MethodGetData             = "getData"
	MethodSaveSettings        = "saveSettings"
	MethodSelectMarksByValue  = "selectMarksByValue"
	MethodSelectMarksByValue2 = "selectMarksByValue2"
)

// Client wraps the HTTP interactions with a bridge daemon.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.Mutex
	pending     map[string]chan callResult
	session     string
	accessToken string
}

type callResult struct {
	result json.RawMessage
	err    error
}

// APIError represents a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vizbridge api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("vizbridge api error (%d): %s", e.StatusCode, e.Message)
}

// CallError is the error string a bridge returned for one RPC call.
type CallError struct {
	ID      string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("vizbridge call %s failed: %s", e.ID, e.Message)
}

// NewClient instantiates a client for the daemon at rawURL. When httpClient
// is nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, pending: make(map[string]chan callResult)}, nil
}

// Init registers callbackURL with the daemon. The URL must route to
// CallbackHandler. It returns the bridge session id.
func (c *Client) Init(ctx context.Context, callbackURL string) (string, error) {
	var out struct {
		Session string `json:"session"`
	}
	if err := c.post(ctx, "/api/v1/init", map[string]string{"callbackUrl": callbackURL}, &out); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.session = out.Session
	c.mu.Unlock()
	return out.Session, nil
}

// SetAccessToken sets the bearer token sent with every request. An empty
// token disables the header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Session returns the id returned by the last Init.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Call submits an RPC request and blocks until its response arrives on the
// callback handler or ctx ends.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	encoded := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		encoded[i] = raw
	}

	id := uuid.NewString()
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := struct {
		ID     string            `json:"id"`
		Method string            `json:"method"`
		Args   []json.RawMessage `json:"args"`
	}{ID: id, Method: method, Args: encoded}
	if err := c.post(ctx, "/api/v1/rpc", req, nil); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetData requests a table and decodes the result into out. A nil out
// discards the result. It reports false when the table does not exist.
func (c *Client) GetData(ctx context.Context, spec, options any, out any) (bool, error) {
	args := []any{spec}
	if options != nil {
		args = append(args, options)
	}
	raw, err := c.Call(ctx, MethodGetData, args...)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return true, fmt.Errorf("decode data: %w", err)
		}
	}
	return true, nil
}

// SaveSettings sends a settings-update command.
func (c *Client) SaveSettings(ctx context.Context, settings map[string]any, save, add bool) error {
	return c.post(ctx, "/api/v1/settings", map[string]any{
		"settings": settings,
		"save":     save,
		"add":      add,
	}, nil)
}

// CloseDialog closes the open dialog with the given return payload.
func (c *Client) CloseDialog(ctx context.Context, payload string) error {
	return c.post(ctx, "/api/v1/dialog/close", map[string]string{"payload": payload}, nil)
}

// Schema fetches the last collected schema into out.
func (c *Client) Schema(ctx context.Context, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/schema", nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// CallbackHandler returns the handler that receives RPC responses. Mount it
// at the URL given to Init.
func (c *Client) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		var body struct {
			Result json.RawMessage `json:"result"`
			Error  *string         `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			// Unknown ids are acknowledged too.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		res := callResult{result: body.Result}
		if body.Error != nil {
			res = callResult{err: &CallError{ID: id, Message: *body.Error}}
		}
		ch <- res
		w.WriteHeader(http.StatusNoContent)
	})
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
