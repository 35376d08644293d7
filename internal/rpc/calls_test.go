package rpc

import (
	"encoding/json"
	"math"
	"testing"

	"VizBridge/internal/dataspec"
	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
)

func TestDecodeCallUnknownMethod(t *testing.T) {
	_, err := DecodeCall("eval", nil)
	if xerrors.CodeOf(err) != CodeUnknownMethod {
		t.Fatalf("expected unknown method, got %v", err)
	}
}

func TestDecodeCallGetData(t *testing.T) {
	call, err := DecodeCall(MethodGetData, []json.RawMessage{
		json.RawMessage(`{"worksheet":"A","source":"datasource","ds":"ds1","table":"t"}`),
		json.RawMessage(`{"maxRows":10}`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gd := call.(GetData)
	if gd.Spec != (dataspec.DataSource{Panel: "A", DS: "ds1", Table: "t"}) || gd.Options.MaxRows != 10 {
		t.Fatalf("unexpected call %+v", gd)
	}
}

func TestDecodeCallSelectionDefaults(t *testing.T) {
	call, err := DecodeCall(MethodSelectMarksByValue, []json.RawMessage{
		json.RawMessage(`"A"`),
		json.RawMessage(`[{"fieldName":"Sales","value":{"min":10,"max":"Inf"}},{"fieldName":"Category","value":["Furniture"]}]`),
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sel := call.(SelectMarksByValue)
	if sel.Update != host.SelectionReplace {
		t.Fatalf("expected default replace, got %s", sel.Update)
	}
	r := sel.Criteria[0].Value.(host.Range)
	if r.Min != float64(10) || r.Max != math.MaxFloat64 {
		t.Fatalf("unexpected range %+v", r)
	}
	if vals, ok := sel.Criteria[1].Value.([]any); !ok || vals[0] != "Furniture" {
		t.Fatalf("unexpected categorical value %#v", sel.Criteria[1].Value)
	}
}

func TestDecodeCallRejectsBadArguments(t *testing.T) {
	cases := []struct {
		method string
		args   []json.RawMessage
	}{
		{MethodSelectMarksByValue, []json.RawMessage{json.RawMessage(`"A"`), json.RawMessage(`[]`), json.RawMessage(`"select-all"`)}},
		{MethodSelectMarksByValue, nil},
		{MethodSaveSettings, []json.RawMessage{json.RawMessage(`[1]`)}},
		{MethodSelectMarksByValue2, []json.RawMessage{json.RawMessage(`"A"`), json.RawMessage(`[{"value":[1]}]`)}},
	}
	for _, tc := range cases {
		if _, err := DecodeCall(tc.method, tc.args); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("%s %s: expected invalid argument, got %v", tc.method, tc.args, err)
		}
	}
}
