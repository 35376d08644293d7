package vizbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeDaemon answers RPC submissions by posting to the registered callback.
type fakeDaemon struct {
	t        *testing.T
	mu       sync.Mutex
	callback string
	settings map[string]any
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/init":
		var body struct {
			CallbackURL string `json:"callbackUrl"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.callback = body.CallbackURL
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"session": "s-1"})
	case "/api/v1/rpc":
		var req struct {
			ID     string            `json:"id"`
			Method string            `json:"method"`
			Args   []json.RawMessage `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		go d.respond(req.ID, req.Method, req.Args)
	case "/api/v1/settings":
		var body struct {
			Settings map[string]any `json:"settings"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.settings = body.Settings
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case "/api/v1/dialog/close":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":"HOST_CALL_FAILURE","message":"no dialog"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (d *fakeDaemon) respond(id, method string, args []json.RawMessage) {
	var body any
	switch method {
	case MethodGetData:
		if len(args) > 0 && bytes.Contains(args[0], []byte(`"missing"`)) {
			body = map[string]any{"result": nil}
		} else {
			body = map[string]any{"result": map[string]any{"name": "Summary", "isSummaryData": true}}
		}
	default:
		body = map[string]any{"error": "method " + method + " does not exist"}
	}
	raw, _ := json.Marshal(body)
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	resp, err := http.Post(cb+"?id="+id, "application/json", bytes.NewReader(raw))
	if err != nil {
		d.t.Errorf("callback: %v", err)
		return
	}
	resp.Body.Close()
}

func newTestClient(t *testing.T) (*Client, *fakeDaemon) {
	t.Helper()
	daemon := &fakeDaemon{t: t}
	srv := httptest.NewServer(daemon)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cb := httptest.NewServer(client.CallbackHandler())
	t.Cleanup(cb.Close)

	session, err := client.Init(context.Background(), cb.URL)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if session != "s-1" || client.Session() != "s-1" {
		t.Fatalf("unexpected session %q", session)
	}
	return client, daemon
}

func TestCallReceivesCorrelatedResult(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var env struct {
		Name          string `json:"name"`
		IsSummaryData bool   `json:"isSummaryData"`
	}
	found, err := client.GetData(ctx, map[string]string{"worksheet": "A", "source": "summary"}, nil, &env)
	if err != nil || !found {
		t.Fatalf("get data: found=%v err=%v", found, err)
	}
	if env.Name != "Summary" || !env.IsSummaryData {
		t.Fatalf("unexpected envelope %+v", env)
	}

	found, err = client.GetData(ctx, map[string]string{"worksheet": "missing", "source": "summary"}, nil, nil)
	if err != nil || found {
		t.Fatalf("missing table: found=%v err=%v", found, err)
	}
}

func TestCallSurfacesErrorResponse(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "eval", "1+1")
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Message != "method eval does not exist" {
		t.Fatalf("expected call error, got %v", err)
	}
}

func TestConcurrentCallsAreCorrelated(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			method := MethodGetData
			if i%2 == 1 {
				method = "nope"
			}
			_, err := client.Call(ctx, method, map[string]string{"worksheet": "A", "source": "summary"})
			if (err != nil) != (method == "nope") {
				t.Errorf("call %d (%s): unexpected err %v", i, method, err)
			}
		}()
	}
	wg.Wait()
}

func TestSaveSettingsAndAPIError(t *testing.T) {
	client, daemon := newTestClient(t)
	ctx := context.Background()

	if err := client.SaveSettings(ctx, map[string]any{"color": "red"}, true, false); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	daemon.mu.Lock()
	got := daemon.settings["color"]
	daemon.mu.Unlock()
	if got != "red" {
		t.Fatalf("daemon received %v", got)
	}

	err := client.CloseDialog(ctx, "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Code != "HOST_CALL_FAILURE" {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestCallbackHandlerIgnoresUnknownIDs(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cb?id=unknown", bytes.NewReader([]byte(`{"result":1}`)))
	client.CallbackHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}
