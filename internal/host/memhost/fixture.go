package memhost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"VizBridge/internal/host"
)

// Fixture 描述一个静态工作区，可从 JSON 或 YAML 文件加载。
type Fixture struct {
	Worksheets  []WorksheetFixture  `json:"worksheets" yaml:"worksheets"`
	DataSources []DataSourceFixture `json:"dataSources" yaml:"dataSources"`
	Settings    map[string]string   `json:"settings" yaml:"settings"`
}

// WorksheetFixture 描述一个 Panel。
type WorksheetFixture struct {
	Name        string         `json:"name" yaml:"name"`
	DataSources []string       `json:"dataSources" yaml:"dataSources"`
	Summary     TableFixture   `json:"summary" yaml:"summary"`
	Underlying  []TableFixture `json:"underlying" yaml:"underlying"`
}

// DataSourceFixture 描述一个共享数据源。
type DataSourceFixture struct {
	ID                string         `json:"id" yaml:"id"`
	Name              string         `json:"name" yaml:"name"`
	IsExtract         bool           `json:"isExtract" yaml:"isExtract"`
	ExtractUpdateTime string         `json:"extractUpdateTime" yaml:"extractUpdateTime"`
	Fields            []host.Field   `json:"fields" yaml:"fields"`
	LogicalTables     []TableFixture `json:"logicalTables" yaml:"logicalTables"`
}

// TableFixture 描述一张表，Rows 按列顺序给出原生值。
type TableFixture struct {
	ID      string          `json:"id" yaml:"id"`
	Caption string          `json:"caption" yaml:"caption"`
	Name    string          `json:"name" yaml:"name"`
	Columns []ColumnFixture `json:"columns" yaml:"columns"`
	Rows    [][]any         `json:"rows" yaml:"rows"`
	Marks   []host.MarkInfo `json:"marks" yaml:"marks"`
}

// ColumnFixture 描述一列。
type ColumnFixture struct {
	FieldName    string        `json:"fieldName" yaml:"fieldName"`
	DataType     host.DataType `json:"dataType" yaml:"dataType"`
	IsReferenced *bool         `json:"isReferenced" yaml:"isReferenced"`
}

// LoadFixture 根据文件扩展名解析 JSON 或 YAML 工作区描述。
func LoadFixture(path string) (*Fixture, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("工作区描述文件路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工作区描述失败: %w", err)
	}
	var fx Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &fx)
	default:
		err = json.Unmarshal(raw, &fx)
	}
	if err != nil {
		return nil, fmt.Errorf("解析工作区描述失败: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate 检查数据源引用是否都能解析。
func (f *Fixture) Validate() error {
	known := make(map[string]struct{}, len(f.DataSources))
	for _, ds := range f.DataSources {
		if ds.ID == "" {
			return fmt.Errorf("数据源 ID 不能为空")
		}
		if _, dup := known[ds.ID]; dup {
			return fmt.Errorf("数据源 ID 重复: %s", ds.ID)
		}
		known[ds.ID] = struct{}{}
	}
	for _, ws := range f.Worksheets {
		if ws.Name == "" {
			return fmt.Errorf("工作表名称不能为空")
		}
		for _, id := range ws.DataSources {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("工作表 %s 引用了未知数据源 %s", ws.Name, id)
			}
		}
	}
	return nil
}

func (t TableFixture) build(defaultName string, summary bool) *host.Table {
	name := t.Name
	if name == "" {
		name = defaultName
	}
	table := &host.Table{
		Name:          name,
		Columns:       make([]host.Column, len(t.Columns)),
		Data:          make([][]host.DataValue, len(t.Rows)),
		IsSummaryData: summary,
		TotalRowCount: len(t.Rows),
	}
	for i, col := range t.Columns {
		referenced := true
		if col.IsReferenced != nil {
			referenced = *col.IsReferenced
		}
		table.Columns[i] = host.Column{
			FieldName:    col.FieldName,
			DataType:     col.DataType,
			Index:        i,
			IsReferenced: referenced,
		}
	}
	for r, row := range t.Rows {
		cells := make([]host.DataValue, len(t.Columns))
		for c := range t.Columns {
			var v any
			if c < len(row) {
				v = row[c]
			}
			cells[c] = host.DataValue{Value: v, NativeValue: v, FormattedValue: formatValue(v)}
		}
		table.Data[r] = cells
	}
	if len(t.Marks) > 0 {
		table.MarksInfo = append([]host.MarkInfo(nil), t.Marks...)
	}
	return table
}

func formatValue(v any) string {
	if v == nil {
		return "Null"
	}
	return fmt.Sprint(v)
}
