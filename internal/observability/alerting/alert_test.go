package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "VizBridge/internal/errors"
)

type countingNotifier struct {
	events []Event
}

func (c *countingNotifier) Channel() Channel { return "test" }

func (c *countingNotifier) Notify(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestRaiseOnlyAlertsFlaggedCodes(t *testing.T) {
	n := &countingNotifier{}
	d := NewFanout(n)

	Raise(context.Background(), d, "rpc", xerrors.New(xerrors.CodeInvalidArgument, "bad"))
	if len(n.events) != 0 {
		t.Fatalf("invalid argument must not alert")
	}
	Raise(context.Background(), d, "settings", xerrors.Wrap(xerrors.CodePersistenceFailure, errors.New("quota"), "", xerrors.WithMetadata("key", "k")))
	if len(n.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(n.events))
	}
	e := n.events[0]
	if e.Code != xerrors.CodePersistenceFailure || e.Component != "settings" || e.ID == "" || e.Metadata["key"] != "k" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	got := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- e
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), EventFromError("session", xerrors.New(xerrors.CodeInitFailure, ""))); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if e := <-got; e.Code != xerrors.CodeInitFailure {
		t.Fatalf("unexpected code %s", e.Code)
	}
}
