package host

import "time"

// DataType 是列的声明类型标签。
type DataType string

const (
	DataTypeBool     DataType = "bool"
	DataTypeDate     DataType = "date"
	DataTypeDateTime DataType = "date-time"
	DataTypeFloat    DataType = "float"
	DataTypeInt      DataType = "int"
	DataTypeSpatial  DataType = "spatial"
	DataTypeString   DataType = "string"
)

// Column 描述表格中的一列。
type Column struct {
	FieldName    string   `json:"fieldName" yaml:"fieldName"`
	DataType     DataType `json:"dataType" yaml:"dataType"`
	Index        int      `json:"index" yaml:"index"`
	IsReferenced bool     `json:"isReferenced" yaml:"isReferenced"`
}

// DataValue 是一个单元格，NativeValue 为原生类型的值。
type DataValue struct {
	Value          any    `json:"value" yaml:"value"`
	NativeValue    any    `json:"nativeValue" yaml:"nativeValue"`
	FormattedValue string `json:"formattedValue" yaml:"formattedValue"`
}

// MarkInfo 是渲染视图中每行对应的标记信息。
type MarkInfo struct {
	Color   string `json:"color" yaml:"color"`
	Type    string `json:"type" yaml:"type"`
	TupleID *int64 `json:"tupleId,omitempty" yaml:"tupleId"`
}

// Table 是宿主查询返回的矩形数据。
type Table struct {
	Name                   string        `json:"name"`
	Columns                []Column      `json:"columns"`
	Data                   [][]DataValue `json:"data"`
	MarksInfo              []MarkInfo    `json:"marksInfo,omitempty"`
	IsSummaryData          bool          `json:"isSummaryData"`
	IsTotalRowCountLimited bool          `json:"isTotalRowCountLimited"`
	TotalRowCount          int           `json:"totalRowCount"`
}

// FieldRole 表示字段的角色。
type FieldRole string

const (
	RoleDimension FieldRole = "dimension"
	RoleMeasure   FieldRole = "measure"
	RoleUnknown   FieldRole = "unknown"
)

// Field 是数据源范围内的字段描述。
type Field struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	Description       string    `json:"description,omitempty" yaml:"description"`
	Aggregation       string    `json:"aggregation" yaml:"aggregation"`
	Role              FieldRole `json:"role" yaml:"role"`
	IsGenerated       bool      `json:"isGenerated" yaml:"isGenerated"`
	IsHidden          bool      `json:"isHidden" yaml:"isHidden"`
	IsCalculatedField bool      `json:"isCalculatedField" yaml:"isCalculatedField"`
	IsCombinedField   bool      `json:"isCombinedField" yaml:"isCombinedField"`
	DataSourceID      string    `json:"dataSourceId" yaml:"-"`
}

// LogicalTable 是可以按 ID 查询数据的表描述。
type LogicalTable struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// SummaryOptions 对应宿主汇总数据查询参数。
type SummaryOptions struct {
	IgnoreAliases    bool
	IgnoreSelection  bool
	ColumnsToInclude []string
	MaxRows          int
}

// UnderlyingOptions 对应宿主底层数据查询参数。
type UnderlyingOptions struct {
	IgnoreAliases     bool
	IgnoreSelection   bool
	IncludeAllColumns bool
	ColumnsToInclude  []string
	MaxRows           int
}

// SelectionUpdateType 决定按值选择时如何修改当前选择。
type SelectionUpdateType string

const (
	SelectionReplace SelectionUpdateType = "select-replace"
	SelectionAdd     SelectionUpdateType = "select-add"
	SelectionRemove  SelectionUpdateType = "select-remove"
)

// Range 是区间选择条件的边界。
type Range struct {
	Min any `json:"min,omitempty"`
	Max any `json:"max,omitempty"`
	// NullOption 取值 "null-values"、"non-null-values" 或 "all-values"。
	NullOption string `json:"nullOption,omitempty"`
}

// SelectionCriteria 描述一个字段的选择条件，Value 为离散值列表或 Range。
type SelectionCriteria struct {
	FieldName string `json:"fieldName"`
	Value     any    `json:"value"`
}

// EventType 是宿主推送的事件类型。
type EventType string

const (
	EventSettingsChanged      EventType = "settings-changed"
	EventMarkSelectionChanged EventType = "mark-selection-changed"
	EventConfigure            EventType = "configure"
)

// Event 是宿主推送的一条带时间戳的消息。
type Event struct {
	Type     EventType
	Panel    string
	Settings map[string]string
	At       time.Time
}
