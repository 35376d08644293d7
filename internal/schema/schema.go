// Package schema 遍历宿主工作区，生成去重后的元数据快照。
package schema

import "VizBridge/internal/host"

// TableInfo 是表的列与标记元数据，不包含数据行。
type TableInfo struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Columns   []host.Column   `json:"columns"`
	MarksInfo []host.MarkInfo `json:"marksInfo,omitempty"`
}

// PanelInfo 描述一个工作表。
type PanelInfo struct {
	Name             string      `json:"name"`
	Summary          TableInfo   `json:"summary"`
	DataSourceIDs    []string    `json:"dataSourceIds"`
	UnderlyingTables []TableInfo `json:"underlyingTables"`
}

// DataSourceInfo 描述一个数据源，每个 ID 只收集一次。
type DataSourceInfo struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Fields            []host.Field `json:"fields"`
	IsExtract         bool         `json:"isExtract"`
	ExtractUpdateTime string       `json:"extractUpdateTime,omitempty"`
	LogicalTables     []TableInfo  `json:"logicalTables"`
}

// Schema 是收集器的输出。
type Schema struct {
	Worksheets  map[string]PanelInfo       `json:"worksheets"`
	DataSources map[string]*DataSourceInfo `json:"dataSources"`
}

// TableInfoOf 把宿主表转换为只含元数据的 TableInfo。
func TableInfoOf(t *host.Table) TableInfo {
	if t == nil {
		return TableInfo{Columns: []host.Column{}}
	}
	info := TableInfo{
		Name:    t.Name,
		Columns: append([]host.Column{}, t.Columns...),
	}
	if len(t.MarksInfo) > 0 {
		info.MarksInfo = append([]host.MarkInfo(nil), t.MarksInfo...)
	}
	return info
}
