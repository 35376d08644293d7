package rpc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"VizBridge/internal/host"
	"VizBridge/internal/schema"
)

// EncodingArrow 让 getData 以 base64 编码的 Arrow IPC 流返回数据。
const EncodingArrow = "arrow"

// DataEnvelope 是 getData 的结果：表元数据加按列组织的数据。
type DataEnvelope struct {
	schema.TableInfo
	Data                   any    `json:"data,omitempty"`
	Arrow                  string `json:"arrow,omitempty"`
	IsTotalRowCountLimited bool   `json:"isTotalRowCountLimited"`
	IsSummaryData          bool   `json:"isSummaryData"`
}

// NewDataEnvelope 把宿主表转换为结果。encoding 为 "arrow" 时数据写入 Arrow 字段。
func NewDataEnvelope(t *host.Table, encoding string) (*DataEnvelope, error) {
	env := &DataEnvelope{
		TableInfo:              schema.TableInfoOf(t),
		IsTotalRowCountLimited: t.IsTotalRowCountLimited,
		IsSummaryData:          t.IsSummaryData,
	}
	if encoding == EncodingArrow {
		encoded, err := arrowStream(t)
		if err != nil {
			return nil, err
		}
		env.Arrow = encoded
		return env, nil
	}
	env.Data = columnMajor(t)
	return env, nil
}

// columnMajor 按字段名组织每列的原生值。NaN 与 ±Inf 无法用 JSON 表示，输出为 null。
func columnMajor(t *host.Table) map[string][]any {
	out := make(map[string][]any, len(t.Columns))
	for _, col := range t.Columns {
		values := make([]any, len(t.Data))
		for r, row := range t.Data {
			if col.Index < len(row) {
				values[r] = finiteOrNil(row[col.Index].NativeValue)
			}
		}
		out[col.FieldName] = values
	}
	return out
}

func finiteOrNil(v any) any {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
	case float32:
		if f := float64(n); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}
	return v
}

func arrowType(dt host.DataType) arrow.DataType {
	switch dt {
	case host.DataTypeInt:
		return arrow.PrimitiveTypes.Int64
	case host.DataTypeFloat:
		return arrow.PrimitiveTypes.Float64
	case host.DataTypeBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// arrowStream 把表写成单个记录批次的 Arrow IPC 流并做 base64 编码。
func arrowStream(t *host.Table) (string, error) {
	fields := make([]arrow.Field, len(t.Columns))
	for i, col := range t.Columns {
		fields[i] = arrow.Field{Name: col.FieldName, Type: arrowType(col.DataType), Nullable: true}
	}
	sc := arrow.NewSchema(fields, nil)
	pool := memory.NewGoAllocator()

	b := array.NewRecordBuilder(pool, sc)
	defer b.Release()
	for i, col := range t.Columns {
		for _, row := range t.Data {
			var v any
			if col.Index < len(row) {
				v = row[col.Index].NativeValue
			}
			appendValue(b.Field(i), v)
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(sc), ipc.WithAllocator(pool))
	if err := w.Write(rec); err != nil {
		w.Close()
		return "", fmt.Errorf("写入 Arrow 记录失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("关闭 Arrow 写入器失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func appendValue(builder array.Builder, v any) {
	if v == nil {
		builder.AppendNull()
		return
	}
	switch b := builder.(type) {
	case *array.Int64Builder:
		if n, ok := toFloat(v); ok && n == math.Trunc(n) {
			b.Append(int64(n))
			return
		}
	case *array.Float64Builder:
		if n, ok := toFloat(v); ok {
			b.Append(n)
			return
		}
	case *array.BooleanBuilder:
		if flag, ok := v.(bool); ok {
			b.Append(flag)
			return
		}
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			b.Append(s)
		} else {
			b.Append(fmt.Sprint(v))
		}
		return
	}
	builder.AppendNull()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
