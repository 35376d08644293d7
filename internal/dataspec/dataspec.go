// Package dataspec 把抽象的数据请求描述解析为工作区中的一张具体的表。
package dataspec

import (
	"encoding/json"
	"fmt"
	"strings"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
)

// CodeInvalidSpec 表示数据请求描述格式错误。
const CodeInvalidSpec xerrors.Code = "INVALID_SPEC"

func init() {
	xerrors.Register(CodeInvalidSpec, xerrors.Attributes{Message: "unexpected data spec format", Severity: xerrors.SeverityInfo})
}

// Source 是数据请求描述的标签。
type Source string

const (
	SourceSummary    Source = "summary"
	SourceUnderlying Source = "underlying"
	SourceDataSource Source = "datasource"
)

// Spec 是封闭的数据请求描述，只有本包中的三种实现。
type Spec interface {
	Worksheet() string
	Source() Source
	sealed()
}

// Summary 请求工作表的汇总数据。
type Summary struct {
	Panel string
}

// Underlying 请求工作表的某张底层表。
type Underlying struct {
	Panel string
	Table string
}

// DataSource 请求工作表引用的某个数据源中的逻辑表。
type DataSource struct {
	Panel string
	DS    string
	Table string
}

func (s Summary) Worksheet() string    { return s.Panel }
func (s Underlying) Worksheet() string { return s.Panel }
func (s DataSource) Worksheet() string { return s.Panel }

func (Summary) Source() Source    { return SourceSummary }
func (Underlying) Source() Source { return SourceUnderlying }
func (DataSource) Source() Source { return SourceDataSource }

func (Summary) sealed()    {}
func (Underlying) sealed() {}
func (DataSource) sealed() {}

type wireSpec struct {
	Worksheet string `json:"worksheet"`
	Source    Source `json:"source"`
	Table     string `json:"table,omitempty"`
	DS        string `json:"ds,omitempty"`
}

// Decode 解析 {"worksheet","source","table","ds"} 形式的描述。
func Decode(raw json.RawMessage) (Spec, error) {
	var w wireSpec
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, xerrors.Wrap(CodeInvalidSpec, err, "")
	}
	switch w.Source {
	case SourceSummary:
		return Summary{Panel: w.Worksheet}, nil
	case SourceUnderlying:
		return Underlying{Panel: w.Worksheet, Table: w.Table}, nil
	case SourceDataSource:
		return DataSource{Panel: w.Worksheet, DS: w.DS, Table: w.Table}, nil
	default:
		return nil, xerrors.New(CodeInvalidSpec, fmt.Sprintf("unexpected data spec source %q", w.Source))
	}
}

// Encode 返回描述的线上格式。
func Encode(spec Spec) ([]byte, error) {
	switch s := spec.(type) {
	case Summary:
		return json.Marshal(wireSpec{Worksheet: s.Panel, Source: SourceSummary})
	case Underlying:
		return json.Marshal(wireSpec{Worksheet: s.Panel, Source: SourceUnderlying, Table: s.Table})
	case DataSource:
		return json.Marshal(wireSpec{Worksheet: s.Panel, Source: SourceDataSource, DS: s.DS, Table: s.Table})
	default:
		return nil, xerrors.New(CodeInvalidSpec, "")
	}
}

// Options 是数据查询参数，字段名与宿主接口一致。
type Options struct {
	IgnoreAliases     bool     `json:"ignoreAliases,omitempty"`
	IgnoreSelection   bool     `json:"ignoreSelection,omitempty"`
	IncludeAllColumns bool     `json:"includeAllColumns,omitempty"`
	MaxRows           int      `json:"maxRows,omitempty"`
	ColumnsToInclude  []string `json:"columnsToInclude,omitempty"`
	// Encoding 为 "arrow" 时以 Arrow IPC 返回数据，默认按列 JSON。
	Encoding string `json:"encoding,omitempty"`
}

// DecodeOptions 解析可选的查询参数，空值或 null 得到零值。
func DecodeOptions(raw json.RawMessage) (Options, error) {
	var opts Options
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return Options{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid data options")
	}
	if opts.MaxRows < 0 {
		return Options{}, xerrors.New(xerrors.CodeInvalidArgument, "maxRows must not be negative")
	}
	return opts, nil
}

func (o Options) summary() host.SummaryOptions {
	return host.SummaryOptions{
		IgnoreAliases:    o.IgnoreAliases,
		IgnoreSelection:  o.IgnoreSelection,
		ColumnsToInclude: o.ColumnsToInclude,
		MaxRows:          o.MaxRows,
	}
}

func (o Options) underlying() host.UnderlyingOptions {
	return host.UnderlyingOptions{
		IgnoreAliases:     o.IgnoreAliases,
		IgnoreSelection:   o.IgnoreSelection,
		IncludeAllColumns: o.IncludeAllColumns,
		ColumnsToInclude:  o.ColumnsToInclude,
		MaxRows:           o.MaxRows,
	}
}
