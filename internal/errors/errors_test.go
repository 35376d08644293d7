package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	root := stdErrors.New("quota exceeded")
	err := fmt.Errorf("save: %w", Wrap(CodePersistenceFailure, root, ""))

	if got := CodeOf(err); got != CodePersistenceFailure {
		t.Fatalf("unexpected code: got %s want %s", got, CodePersistenceFailure)
	}
	if !HasCode(err, CodePersistenceFailure) {
		t.Fatalf("expected HasCode to find %s", CodePersistenceFailure)
	}
	if !stdErrors.Is(err, root) {
		t.Fatalf("expected cause to stay reachable")
	}
	if !ShouldAlert(err) {
		t.Fatalf("persistence failures should alert by default")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	code := Code("TEST_CUSTOM")
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message from registry, got %q", err.Message())
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
	if New(code, "", WithAlert(true)).ShouldAlert() != true {
		t.Fatalf("WithAlert should override registry")
	}
}

func TestIsComparesCodes(t *testing.T) {
	a := New(CodeNotFound, "panel missing")
	b := New(CodeNotFound, "other message")
	if !stdErrors.Is(a, b) {
		t.Fatalf("errors with the same code should match")
	}
	if stdErrors.Is(a, New(CodeInvalidArgument, "")) {
		t.Fatalf("errors with different codes should not match")
	}
}

func TestPayloadOf(t *testing.T) {
	if p := PayloadOf(nil); p != (Payload{}) {
		t.Fatalf("nil error should give empty payload, got %+v", p)
	}
	p := PayloadOf(New(CodeHostUnavailable, ""))
	if p.Code != CodeHostUnavailable || p.Message != "[HOST_UNAVAILABLE] host runtime unavailable" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p := PayloadOf(stdErrors.New("plain")); p.Code != CodeUnknown || p.Message != "plain" {
		t.Fatalf("plain errors map to UNKNOWN, got %+v", p)
	}
}

func TestLogValueGroupsFields(t *testing.T) {
	err := Wrap(CodeHostCallFailure, stdErrors.New("boom"), "select failed", WithMetadata("worksheet", "A"))
	got := map[string]string{}
	for _, a := range err.LogValue().Group() {
		got[a.Key] = a.Value.String()
	}
	want := map[string]string{"code": "HOST_CALL_FAILURE", "message": "select failed", "cause": "boom", "worksheet": "A"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("attr %s: got %q want %q", k, got[k], v)
		}
	}
}
