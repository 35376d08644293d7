package dataspec

import (
	"context"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
)

// Resolver 在工作区中查找数据请求描述所指的表。
type Resolver struct {
	workspace host.Workspace
}

// NewResolver 创建解析器。
func NewResolver(ws host.Workspace) *Resolver {
	return &Resolver{workspace: ws}
}

// Resolve 返回描述所指的表。工作表、数据源或表不存在时返回 (nil, nil)。
func (r *Resolver) Resolve(ctx context.Context, spec Spec, opts Options) (*host.Table, error) {
	switch s := spec.(type) {
	case Summary:
		p := host.FindPanel(r.workspace, s.Panel)
		if p == nil {
			return nil, nil
		}
		return wrapHost(p.SummaryData(ctx, opts.summary()))
	case Underlying:
		p := host.FindPanel(r.workspace, s.Panel)
		if p == nil {
			return nil, nil
		}
		tables, err := p.UnderlyingTables(ctx)
		if err != nil {
			return wrapHost(nil, err)
		}
		if !hasTable(tables, s.Table) {
			return nil, nil
		}
		return wrapHost(p.UnderlyingTableData(ctx, s.Table, opts.underlying()))
	case DataSource:
		p := host.FindPanel(r.workspace, s.Panel)
		if p == nil {
			return nil, nil
		}
		sources, err := p.DataSources(ctx)
		if err != nil {
			return wrapHost(nil, err)
		}
		var ds host.DataSource
		for _, candidate := range sources {
			if candidate.ID() == s.DS {
				ds = candidate
				break
			}
		}
		if ds == nil {
			return nil, nil
		}
		tables, err := ds.LogicalTables(ctx)
		if err != nil {
			return wrapHost(nil, err)
		}
		if !hasTable(tables, s.Table) {
			return nil, nil
		}
		return wrapHost(ds.LogicalTableData(ctx, s.Table, opts.underlying()))
	default:
		return nil, xerrors.New(CodeInvalidSpec, "")
	}
}

func hasTable(tables []host.LogicalTable, id string) bool {
	for _, t := range tables {
		if t.ID == id {
			return true
		}
	}
	return false
}

func wrapHost(t *host.Table, err error) (*host.Table, error) {
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeHostCallFailure, err, "")
	}
	return t, nil
}
