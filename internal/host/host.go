// Package host 定义了桥接层所依赖的宿主扩展运行时接口。桥接层只通过这些接口访问工作区。
package host

import "context"

// Runtime 是宿主扩展运行时的入口。
type Runtime interface {
	// Initialize 完成宿主的异步初始化，其结果决定就绪信号的终态。
	Initialize(ctx context.Context) error
	Workspace() Workspace
	Settings() Settings
	UI() UI
	// Subscribe 返回宿主事件流，cancel 用于退订。
	Subscribe(buffer int) (events <-chan Event, cancel func())
}

// Workspace 是宿主顶层内容容器。
type Workspace interface {
	Panels() []Panel
}

// Panel 是工作区中的一个命名视图。
type Panel interface {
	Name() string
	DataSources(ctx context.Context) ([]DataSource, error)
	SummaryData(ctx context.Context, opts SummaryOptions) (*Table, error)
	UnderlyingTables(ctx context.Context) ([]LogicalTable, error)
	UnderlyingTableData(ctx context.Context, tableID string, opts UnderlyingOptions) (*Table, error)
	SelectMarksByValue(ctx context.Context, criteria []SelectionCriteria, update SelectionUpdateType) error
}

// DataSource 是被多个 Panel 共享引用的数据源。
type DataSource interface {
	ID() string
	Name() string
	IsExtract() bool
	ExtractUpdateTime() string
	Fields() []Field
	LogicalTables(ctx context.Context) ([]LogicalTable, error)
	LogicalTableData(ctx context.Context, tableID string, opts UnderlyingOptions) (*Table, error)
}

// Settings 是宿主持久化的字符串键值存储。
type Settings interface {
	GetAll() map[string]string
	Set(key, value string)
	Erase(key string)
	// Save 持久化当前内存状态；失败时内存中的修改保持不变。
	Save(ctx context.Context) error
}

// UI 提供模态对话框能力。
type UI interface {
	DisplayDialog(ctx context.Context, url, payload string, width, height int) (string, error)
	CloseDialog(payload string) error
}

// FindPanel 按名称查找 Panel，找不到时返回 nil。
func FindPanel(ws Workspace, name string) Panel {
	if ws == nil {
		return nil
	}
	for _, p := range ws.Panels() {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
