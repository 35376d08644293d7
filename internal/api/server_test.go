package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VizBridge/internal/auth"
	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host/memhost"
	"VizBridge/internal/observability/metrics"
	"VizBridge/internal/queue"
	"VizBridge/internal/session"
	"VizBridge/internal/transport"
)

type callback struct {
	id   string
	body map[string]json.RawMessage
}

type harness struct {
	rt     *memhost.Runtime
	sess   *session.Session
	server *httptest.Server
	rec    *transport.Recorder
	ctx    context.Context
}

func newHarness(t *testing.T, run bool) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	rt := memhost.New(memhost.SampleFixture())
	rec := transport.NewRecorder()
	sess := session.New(rt, rec, session.WithCallbackTimeout(time.Second))
	q := queue.NewMemoryQueue(8)
	proc := queue.NewProcessor(sess.Bridge(), q, queue.WithWorkerCount(2))
	go proc.Start(ctx)
	if run {
		go sess.Run(ctx)
		if _, err := rec.Wait(ctx, transport.MessageSettings); err != nil {
			t.Fatalf("session startup: %v", err)
		}
	}

	srv := httptest.NewServer(NewServer(":0", sess, q, WithMetrics(metrics.New())).Handler())
	t.Cleanup(srv.Close)
	return &harness{rt: rt, sess: sess, server: srv, rec: rec, ctx: ctx}
}

func (h *harness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(h.server.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetDataIsPostedToCallback(t *testing.T) {
	h := newHarness(t, true)

	got := make(chan callback, 1)
	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- callback{id: r.URL.Query().Get("id"), body: body}
	}))
	defer cb.Close()

	if resp := h.post(t, "/api/v1/init", map[string]string{"callbackUrl": cb.URL + "/rpc-callback"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("init status %d", resp.StatusCode)
	}
	resp := h.post(t, "/api/v1/rpc", map[string]any{
		"id":     "r1",
		"method": "getData",
		"args":   []any{map[string]string{"worksheet": "A", "source": "summary"}},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("rpc status %d", resp.StatusCode)
	}

	select {
	case c := <-got:
		if c.id != "r1" {
			t.Fatalf("unexpected callback id %q", c.id)
		}
		if _, ok := c.body["error"]; ok {
			t.Fatalf("unexpected error body %s", c.body["error"])
		}
		var env struct {
			IsSummaryData bool             `json:"isSummaryData"`
			Data          map[string][]any `json:"data"`
		}
		if err := json.Unmarshal(c.body["result"], &env); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if !env.IsSummaryData || len(env.Data["Category"]) != 3 {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-h.ctx.Done():
		t.Fatalf("callback never arrived")
	}
}

func TestRPCRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, false)

	resp := h.post(t, "/api/v1/rpc", map[string]any{"method": "getData"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body xerrors.Payload
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected code %s", body.Code)
	}
}

func TestSettingsEndpointWritesHost(t *testing.T) {
	h := newHarness(t, true)

	resp := h.post(t, "/api/v1/settings", map[string]any{
		"settings": map[string]any{"color": "blue"},
		"save":     true,
		"add":      false,
	})
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("settings status %d: %s", resp.StatusCode, body)
	}
	if got := h.rt.Settings().GetAll(); len(got) != 1 || got["color"] != `"blue"` {
		t.Fatalf("unexpected host settings %v", got)
	}
	if _, err := h.rec.Wait(h.ctx, transport.SettingMessage("color")); err != nil {
		t.Fatalf("setting was not pushed: %v", err)
	}
}

func TestHealthReflectsReadiness(t *testing.T) {
	h := newHarness(t, false)

	resp, err := http.Get(h.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before init, got %d", resp.StatusCode)
	}

	go h.sess.Run(h.ctx)
	if err := h.sess.Gate().Await(h.ctx); err != nil {
		t.Fatalf("await: %v", err)
	}
	resp, err = http.Get(h.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after init, got %d", resp.StatusCode)
	}
}

func TestSchemaAndDialogEndpoints(t *testing.T) {
	h := newHarness(t, true)

	resp, err := http.Get(h.server.URL + "/api/v1/schema")
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	defer resp.Body.Close()
	var sc struct {
		Worksheets  map[string]json.RawMessage `json:"worksheets"`
		DataSources map[string]json.RawMessage `json:"dataSources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if len(sc.Worksheets) != 2 || len(sc.DataSources) != 1 {
		t.Fatalf("unexpected schema %+v", sc)
	}

	if resp := h.post(t, "/api/v1/dialog/close", map[string]string{"payload": "x"}); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("closing without an open dialog: status %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, false)
	resp, err := http.Get(h.server.URL + "/api/v1/rpc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		xerrors.CodeInvalidArgument:    http.StatusBadRequest,
		xerrors.CodeHostUnavailable:    http.StatusServiceUnavailable,
		xerrors.CodePersistenceFailure: http.StatusBadGateway,
		xerrors.CodeUnknown:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(code); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestTokenGuardProtectsAPIRoutes(t *testing.T) {
	rt := memhost.New(memhost.SampleFixture())
	sess := session.New(rt, transport.NewRecorder())
	srv := httptest.NewServer(NewServer(":0", sess, queue.NewMemoryQueue(1),
		WithTokenGuard(auth.NewTokenGuard("s3cret"))).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/init", "application/json", bytes.NewReader([]byte(`{"callbackUrl":"http://127.0.0.1:1/cb"}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/init", bytes.NewReader([]byte(`{"callbackUrl":"http://127.0.0.1:1/cb"}`)))
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatalf("healthz must not require a token")
	}
}
