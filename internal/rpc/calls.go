package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"VizBridge/internal/dataspec"
	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
	"VizBridge/internal/settings"
)

// 支持的方法名。
const (
	MethodGetData             = "getData"
	MethodSaveSettings        = "saveSettings"
	MethodSelectMarksByValue  = "selectMarksByValue"
	MethodSelectMarksByValue2 = "selectMarksByValue2"
)

// Call 是已解码的调用，只有本包中的四种实现。
type Call interface {
	Method() string
	call()
}

// GetData 读取一张表。
type GetData struct {
	Spec    dataspec.Spec
	Options dataspec.Options
}

// SaveSettings 写入设置。
type SaveSettings struct {
	Settings map[string]any
	Options  settings.SaveOptions
}

// SelectMarksByValue 按值修改工作表的选择。
type SelectMarksByValue struct {
	Worksheet string
	Criteria  []host.SelectionCriteria
	Update    host.SelectionUpdateType
}

// SelectMarksByValue2 先替换选择，再逐项移除反向条件。
type SelectMarksByValue2 struct {
	Worksheet string
	Criteria  []host.SelectionCriteria
	Inverse   [][]host.SelectionCriteria
}

func (GetData) Method() string             { return MethodGetData }
func (SaveSettings) Method() string        { return MethodSaveSettings }
func (SelectMarksByValue) Method() string  { return MethodSelectMarksByValue }
func (SelectMarksByValue2) Method() string { return MethodSelectMarksByValue2 }

func (GetData) call()             {}
func (SaveSettings) call()        {}
func (SelectMarksByValue) call()  {}
func (SelectMarksByValue2) call() {}

// DecodeCall 按方法名解码参数列表。未知方法返回 UNKNOWN_METHOD。
func DecodeCall(method string, args []json.RawMessage) (Call, error) {
	switch method {
	case MethodGetData:
		spec, err := dataspec.Decode(arg(args, 0))
		if err != nil {
			return nil, err
		}
		opts, err := dataspec.DecodeOptions(arg(args, 1))
		if err != nil {
			return nil, err
		}
		return GetData{Spec: spec, Options: opts}, nil
	case MethodSaveSettings:
		var values map[string]any
		if err := decodeArg(args, 0, &values); err != nil {
			return nil, err
		}
		var opts settings.SaveOptions
		if err := decodeOptionalArg(args, 1, &opts); err != nil {
			return nil, err
		}
		return SaveSettings{Settings: values, Options: opts}, nil
	case MethodSelectMarksByValue:
		var c SelectMarksByValue
		if err := decodeArg(args, 0, &c.Worksheet); err != nil {
			return nil, err
		}
		criteria, err := decodeCriteria(arg(args, 1))
		if err != nil {
			return nil, err
		}
		c.Criteria = criteria
		if err := decodeOptionalArg(args, 2, &c.Update); err != nil {
			return nil, err
		}
		switch c.Update {
		case "":
			c.Update = host.SelectionReplace
		case host.SelectionReplace, host.SelectionAdd, host.SelectionRemove:
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown selection update type %q", c.Update))
		}
		return c, nil
	case MethodSelectMarksByValue2:
		var c SelectMarksByValue2
		if err := decodeArg(args, 0, &c.Worksheet); err != nil {
			return nil, err
		}
		criteria, err := decodeCriteria(arg(args, 1))
		if err != nil {
			return nil, err
		}
		c.Criteria = criteria
		var groups []json.RawMessage
		if err := decodeOptionalArg(args, 2, &groups); err != nil {
			return nil, err
		}
		for _, g := range groups {
			items, err := decodeCriteria(g)
			if err != nil {
				return nil, err
			}
			c.Inverse = append(c.Inverse, items)
		}
		return c, nil
	default:
		return nil, xerrors.New(CodeUnknownMethod, fmt.Sprintf("method %q does not exist", method))
	}
}

func arg(args []json.RawMessage, i int) json.RawMessage {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeArg(args []json.RawMessage, i int, target any) error {
	raw := arg(args, i)
	if isNull(raw) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("argument %d is required", i+1))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid argument %d", i+1))
	}
	return nil
}

func decodeOptionalArg(args []json.RawMessage, i int, target any) error {
	if isNull(arg(args, i)) {
		return nil
	}
	return decodeArg(args, i, target)
}

type wireCriterion struct {
	FieldName string          `json:"fieldName"`
	Value     json.RawMessage `json:"value"`
}

type wireRange struct {
	Min        any    `json:"min"`
	Max        any    `json:"max"`
	NullOption string `json:"nullOption"`
}

// decodeCriteria 解析选择条件。区间边界 "Inf"/"-Inf" 在这里换成有限的极大/极小值。
func decodeCriteria(raw json.RawMessage) ([]host.SelectionCriteria, error) {
	if isNull(raw) {
		return []host.SelectionCriteria{}, nil
	}
	var items []wireCriterion
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid selection criteria")
	}
	out := make([]host.SelectionCriteria, 0, len(items))
	for _, item := range items {
		if item.FieldName == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "selection criteria requires fieldName")
		}
		value, err := decodeCriterionValue(item.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, host.SelectionCriteria{FieldName: item.FieldName, Value: value})
	}
	return out, nil
}

func decodeCriterionValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var r wireRange
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid range value")
		}
		return host.Range{Min: normalizeBound(r.Min), Max: normalizeBound(r.Max), NullOption: r.NullOption}, nil
	}
	var v any
	if isNull(trimmed) {
		return nil, nil
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid selection value")
	}
	return v, nil
}

func normalizeBound(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "Inf", "+Inf":
		return math.MaxFloat64
	case "-Inf":
		return -math.MaxFloat64
	}
	return v
}
