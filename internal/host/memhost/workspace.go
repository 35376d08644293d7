package memhost

import (
	"context"
	"fmt"
	"sync"

	"VizBridge/internal/host"
)

// SelectionCall 记录一次按值选择调用。
type SelectionCall struct {
	Criteria []host.SelectionCriteria
	Update   host.SelectionUpdateType
}

type tableEntry struct {
	info  host.LogicalTable
	table *host.Table
}

type panel struct {
	rt         *Runtime
	name       string
	sourceIDs  []string
	summary    *host.Table
	underlying []tableEntry

	mu         sync.Mutex
	selections []SelectionCall
}

func newPanel(rt *Runtime, fx WorksheetFixture) *panel {
	p := &panel{
		rt:        rt,
		name:      fx.Name,
		sourceIDs: append([]string(nil), fx.DataSources...),
		summary:   fx.Summary.build(fx.Name, true),
	}
	for i, t := range fx.Underlying {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("%s_underlying_%d", fx.Name, i)
		}
		caption := t.Caption
		if caption == "" {
			caption = id
		}
		p.underlying = append(p.underlying, tableEntry{
			info:  host.LogicalTable{ID: id, Caption: caption},
			table: t.build(caption, false),
		})
	}
	return p
}

func (p *panel) Name() string { return p.name }

func (p *panel) DataSources(ctx context.Context) ([]host.DataSource, error) {
	p.rt.dataSourceCalls.Add(1)
	if err := p.rt.hostCall(ctx, p.name); err != nil {
		return nil, err
	}
	out := make([]host.DataSource, 0, len(p.sourceIDs))
	for _, id := range p.sourceIDs {
		// 每次返回新的句柄，同一数据源只能通过 ID 识别。
		out = append(out, &dataSourceHandle{ds: p.rt.sources[id]})
	}
	return out, nil
}

func (p *panel) SummaryData(ctx context.Context, opts host.SummaryOptions) (*host.Table, error) {
	if err := p.rt.hostCall(ctx, p.name); err != nil {
		return nil, err
	}
	return shape(p.summary, opts.ColumnsToInclude, opts.MaxRows), nil
}

func (p *panel) UnderlyingTables(ctx context.Context) ([]host.LogicalTable, error) {
	if err := p.rt.hostCall(ctx, p.name); err != nil {
		return nil, err
	}
	out := make([]host.LogicalTable, len(p.underlying))
	for i, e := range p.underlying {
		out[i] = e.info
	}
	return out, nil
}

func (p *panel) UnderlyingTableData(ctx context.Context, tableID string, opts host.UnderlyingOptions) (*host.Table, error) {
	if err := p.rt.hostCall(ctx, p.name); err != nil {
		return nil, err
	}
	for _, e := range p.underlying {
		if e.info.ID == tableID {
			return shape(e.table, opts.ColumnsToInclude, opts.MaxRows), nil
		}
	}
	return nil, fmt.Errorf("工作表 %s 中不存在底层表 %s", p.name, tableID)
}

func (p *panel) SelectMarksByValue(ctx context.Context, criteria []host.SelectionCriteria, update host.SelectionUpdateType) error {
	if err := p.rt.hostCall(ctx, p.name); err != nil {
		return err
	}
	p.mu.Lock()
	p.selections = append(p.selections, SelectionCall{
		Criteria: append([]host.SelectionCriteria(nil), criteria...),
		Update:   update,
	})
	p.mu.Unlock()
	p.rt.Emit(host.Event{Type: host.EventMarkSelectionChanged, Panel: p.name})
	return nil
}

func (p *panel) selectionHistory() []SelectionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SelectionCall(nil), p.selections...)
}

type dataSource struct {
	rt      *Runtime
	fx      DataSourceFixture
	fields  []host.Field
	logical []tableEntry
}

func newDataSource(rt *Runtime, fx DataSourceFixture) *dataSource {
	ds := &dataSource{rt: rt, fx: fx}
	for _, f := range fx.Fields {
		f.DataSourceID = fx.ID
		if f.Role == "" {
			f.Role = host.RoleUnknown
		}
		ds.fields = append(ds.fields, f)
	}
	for i, t := range fx.LogicalTables {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("%s_table_%d", fx.ID, i)
		}
		caption := t.Caption
		if caption == "" {
			caption = id
		}
		ds.logical = append(ds.logical, tableEntry{
			info:  host.LogicalTable{ID: id, Caption: caption},
			table: t.build(caption, false),
		})
	}
	return ds
}

// dataSourceHandle 是宿主返回给调用方的数据源句柄。
type dataSourceHandle struct {
	ds *dataSource
}

func (h *dataSourceHandle) ID() string                { return h.ds.fx.ID }
func (h *dataSourceHandle) Name() string              { return h.ds.fx.Name }
func (h *dataSourceHandle) IsExtract() bool           { return h.ds.fx.IsExtract }
func (h *dataSourceHandle) ExtractUpdateTime() string { return h.ds.fx.ExtractUpdateTime }

func (h *dataSourceHandle) Fields() []host.Field {
	return append([]host.Field(nil), h.ds.fields...)
}

func (h *dataSourceHandle) LogicalTables(ctx context.Context) ([]host.LogicalTable, error) {
	h.ds.rt.countLogicalTables(h.ds.fx.ID)
	if err := h.ds.rt.hostCall(ctx, h.ds.fx.ID); err != nil {
		return nil, err
	}
	out := make([]host.LogicalTable, len(h.ds.logical))
	for i, e := range h.ds.logical {
		out[i] = e.info
	}
	return out, nil
}

func (h *dataSourceHandle) LogicalTableData(ctx context.Context, tableID string, opts host.UnderlyingOptions) (*host.Table, error) {
	if err := h.ds.rt.hostCall(ctx, h.ds.fx.ID); err != nil {
		return nil, err
	}
	for _, e := range h.ds.logical {
		if e.info.ID == tableID {
			return shape(e.table, opts.ColumnsToInclude, opts.MaxRows), nil
		}
	}
	return nil, fmt.Errorf("数据源 %s 中不存在逻辑表 %s", h.ds.fx.ID, tableID)
}

// shape 按查询参数裁剪列与行，返回新的表。
func shape(src *host.Table, include []string, maxRows int) *host.Table {
	out := *src
	if len(include) > 0 {
		wanted := make(map[string]struct{}, len(include))
		for _, name := range include {
			wanted[name] = struct{}{}
		}
		var keep []int
		out.Columns = nil
		for _, col := range src.Columns {
			if _, ok := wanted[col.FieldName]; !ok {
				continue
			}
			keep = append(keep, col.Index)
			col.Index = len(out.Columns)
			out.Columns = append(out.Columns, col)
		}
		out.Data = make([][]host.DataValue, len(src.Data))
		for r, row := range src.Data {
			cells := make([]host.DataValue, len(keep))
			for i, idx := range keep {
				cells[i] = row[idx]
			}
			out.Data[r] = cells
		}
	}
	if maxRows > 0 && len(out.Data) > maxRows {
		out.Data = out.Data[:maxRows]
		if len(out.MarksInfo) > maxRows {
			out.MarksInfo = out.MarksInfo[:maxRows]
		}
		out.IsTotalRowCountLimited = true
	}
	return &out
}
