package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host"
	"VizBridge/internal/ready"
	"VizBridge/pkg/logger"
)

var (
	summaryOptions    = host.SummaryOptions{IgnoreSelection: true}
	underlyingOptions = host.UnderlyingOptions{
		IgnoreAliases:     false,
		IgnoreSelection:   true,
		IncludeAllColumns: true,
		MaxRows:           1,
	}
	logicalOptions = host.UnderlyingOptions{IgnoreAliases: false, MaxRows: 1}
)

// Collector 在宿主就绪后收集工作区快照。
type Collector struct {
	gate      *ready.Gate
	workspace host.Workspace
	log       *slog.Logger
	observe   func(time.Duration, error)
}

// Option 定义 Collector 的可选配置。
type Option func(*Collector)

// WithObserver 在每次收集结束时回调耗时与结果，用于指标上报。
func WithObserver(fn func(time.Duration, error)) Option {
	return func(c *Collector) { c.observe = fn }
}

// NewCollector 创建收集器。
func NewCollector(gate *ready.Gate, ws host.Workspace, opts ...Option) *Collector {
	c := &Collector{gate: gate, workspace: ws, log: logger.Named("schema")}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Collect 并发遍历所有工作表，返回完整快照。任何一次宿主调用失败都会使整个收集失败。
func (c *Collector) Collect(ctx context.Context) (*Schema, error) {
	start := time.Now()
	s, err := c.collect(ctx)
	if c.observe != nil {
		c.observe(time.Since(start), err)
	}
	if err != nil {
		c.log.Error("收集工作区快照失败", slog.Any("error", err))
		return nil, err
	}
	c.log.Info("工作区快照收集完成",
		slog.Int("worksheets", len(s.Worksheets)),
		slog.Int("data_sources", len(s.DataSources)),
		slog.Duration("elapsed", time.Since(start)))
	return s, nil
}

func (c *Collector) collect(ctx context.Context) (*Schema, error) {
	if err := c.gate.AwaitHost(ctx); err != nil {
		return nil, err
	}

	panels := c.workspace.Panels()
	flights := newFlightGroup()
	infos := make([]PanelInfo, len(panels))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range panels {
		g.Go(func() error {
			info, err := c.collectPanel(gctx, p, flights)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Schema{
		Worksheets:  make(map[string]PanelInfo, len(infos)),
		DataSources: flights.results(),
	}
	for _, info := range infos {
		out.Worksheets[info.Name] = info
	}
	return out, nil
}

func (c *Collector) collectPanel(ctx context.Context, p host.Panel, flights *flightGroup) (PanelInfo, error) {
	info := PanelInfo{Name: p.Name(), DataSourceIDs: []string{}, UnderlyingTables: []TableInfo{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sources, err := p.DataSources(gctx)
		if err != nil {
			return hostCallError(err, "worksheet", p.Name())
		}
		dg, dctx := errgroup.WithContext(gctx)
		for _, ds := range sources {
			info.DataSourceIDs = append(info.DataSourceIDs, ds.ID())
			dg.Go(func() error {
				_, err := flights.do(dctx, ds.ID(), func(fctx context.Context) (*DataSourceInfo, error) {
					return collectDataSource(fctx, ds)
				})
				return err
			})
		}
		return dg.Wait()
	})
	g.Go(func() error {
		summary, err := p.SummaryData(gctx, summaryOptions)
		if err != nil {
			return hostCallError(err, "worksheet", p.Name())
		}
		info.Summary = TableInfoOf(summary)
		return nil
	})
	g.Go(func() error {
		tables, err := collectUnderlying(gctx, p)
		if err != nil {
			return err
		}
		info.UnderlyingTables = tables
		return nil
	})
	if err := g.Wait(); err != nil {
		return PanelInfo{}, err
	}
	return info, nil
}

func collectUnderlying(ctx context.Context, p host.Panel) ([]TableInfo, error) {
	tables, err := p.UnderlyingTables(ctx)
	if err != nil {
		return nil, hostCallError(err, "worksheet", p.Name())
	}
	out := make([]TableInfo, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, tbl := range tables {
		g.Go(func() error {
			data, err := p.UnderlyingTableData(gctx, tbl.ID, underlyingOptions)
			if err != nil {
				return hostCallError(err, "worksheet", p.Name())
			}
			out[i] = TableInfoOf(data)
			out[i].ID = tbl.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func collectDataSource(ctx context.Context, ds host.DataSource) (*DataSourceInfo, error) {
	info := &DataSourceInfo{
		ID:                ds.ID(),
		Name:              ds.Name(),
		Fields:            ds.Fields(),
		IsExtract:         ds.IsExtract(),
		ExtractUpdateTime: ds.ExtractUpdateTime(),
	}
	if info.Fields == nil {
		info.Fields = []host.Field{}
	}
	tables, err := ds.LogicalTables(ctx)
	if err != nil {
		return nil, hostCallError(err, "data_source", ds.ID())
	}
	info.LogicalTables = make([]TableInfo, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, tbl := range tables {
		g.Go(func() error {
			data, err := ds.LogicalTableData(gctx, tbl.ID, logicalOptions)
			if err != nil {
				return hostCallError(err, "data_source", ds.ID())
			}
			info.LogicalTables[i] = TableInfoOf(data)
			info.LogicalTables[i].ID = tbl.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return info, nil
}

func hostCallError(err error, kind, name string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeHostCallFailure, err, "", xerrors.WithMetadata(kind, name))
}

// flight 是单生产者、多消费者的数据源收集结果。
type flight struct {
	done chan struct{}
	info *DataSourceInfo
	err  error
}

// flightGroup 保证同一个数据源 ID 同时最多只有一次收集。
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]*flight)}
}

// do 在 id 首次出现时启动 fn，之后的调用等待同一个结果。
func (g *flightGroup) do(ctx context.Context, id string, fn func(context.Context) (*DataSourceInfo, error)) (*DataSourceInfo, error) {
	g.mu.Lock()
	if f, ok := g.flights[id]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.info, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	g.flights[id] = f
	g.mu.Unlock()

	f.info, f.err = fn(ctx)
	close(f.done)
	return f.info, f.err
}

// results 返回所有成功完成的收集结果，只能在所有 flight 结束后调用。
func (g *flightGroup) results() map[string]*DataSourceInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*DataSourceInfo, len(g.flights))
	for id, f := range g.flights {
		if f.err == nil && f.info != nil {
			out[id] = f.info
		}
	}
	return out
}
