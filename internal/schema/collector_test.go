package schema

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	xerrors "VizBridge/internal/errors"
	"VizBridge/internal/host/memhost"
	"VizBridge/internal/ready"
)

func readyGate() *ready.Gate {
	g := ready.NewGate()
	g.Fulfill()
	return g
}

func TestCollectSharedDataSourceOnce(t *testing.T) {
	rt := memhost.New(memhost.SampleFixture(), memhost.WithCallDelay(5*time.Millisecond))
	c := NewCollector(readyGate(), rt.Workspace())

	s, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := rt.LogicalTableFetches("ds1"); got != 1 {
		t.Fatalf("expected ds1 to be collected once, got %d", got)
	}
	if len(s.DataSources) != 1 {
		t.Fatalf("expected exactly one data source, got %d", len(s.DataSources))
	}
	if _, ok := s.DataSources["ds1"]; !ok {
		t.Fatalf("expected ds1 in data sources: %+v", s.DataSources)
	}
	want := []string{"ds1"}
	if !reflect.DeepEqual(s.Worksheets["A"].DataSourceIDs, want) || !reflect.DeepEqual(s.Worksheets["B"].DataSourceIDs, want) {
		t.Fatalf("unexpected data source ids: A=%v B=%v", s.Worksheets["A"].DataSourceIDs, s.Worksheets["B"].DataSourceIDs)
	}
}

func TestCollectPanelMetadata(t *testing.T) {
	rt := memhost.New(memhost.SampleFixture())
	s, err := NewCollector(readyGate(), rt.Workspace()).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	a := s.Worksheets["A"]
	if a.Name != "A" || len(a.Summary.Columns) != 2 || len(a.Summary.MarksInfo) != 3 {
		t.Fatalf("unexpected summary info: %+v", a.Summary)
	}
	if len(a.UnderlyingTables) != 1 || a.UnderlyingTables[0].ID != "Orders_A" {
		t.Fatalf("unexpected underlying tables: %+v", a.UnderlyingTables)
	}
	ds := s.DataSources["ds1"]
	if ds.Name != "Sample - Superstore" || len(ds.Fields) != 4 {
		t.Fatalf("unexpected data source info: %+v", ds)
	}
	if ds.Fields[0].DataSourceID != "ds1" {
		t.Fatalf("expected field to carry its data source id, got %q", ds.Fields[0].DataSourceID)
	}
	if len(ds.LogicalTables) != 1 || ds.LogicalTables[0].ID != "Orders_ds1" {
		t.Fatalf("unexpected logical tables: %+v", ds.LogicalTables)
	}
}

func TestCollectFailsWholeCall(t *testing.T) {
	rt := memhost.New(memhost.SampleFixture())
	rt.FailOn("ds1", errors.New("quota exceeded"))

	s, err := NewCollector(readyGate(), rt.Workspace()).Collect(context.Background())
	if err == nil {
		t.Fatalf("expected failure, got schema %+v", s)
	}
	if s != nil {
		t.Fatalf("partial schema must not be returned")
	}
	if !xerrors.HasCode(err, xerrors.CodeHostCallFailure) {
		t.Fatalf("expected host call failure, got %v", err)
	}
}

func TestCollectRejectedGate(t *testing.T) {
	gate := ready.NewGate()
	gate.Reject(errors.New("runtime crashed"))
	rt := memhost.New(memhost.SampleFixture())

	_, err := NewCollector(gate, rt.Workspace()).Collect(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeHostUnavailable {
		t.Fatalf("expected host unavailable, got %v", err)
	}
	if rt.DataSourceFetches() != 0 {
		t.Fatalf("workspace must not be touched before readiness")
	}
}

func TestCollectWaitsForGate(t *testing.T) {
	gate := ready.NewGate()
	rt := memhost.New(memhost.SampleFixture())
	c := NewCollector(gate, rt.Workspace())

	done := make(chan error, 1)
	go func() {
		_, err := c.Collect(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("collect returned before readiness: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	if rt.DataSourceFetches() != 0 {
		t.Fatalf("workspace touched before readiness")
	}
	gate.Fulfill()
	if err := <-done; err != nil {
		t.Fatalf("collect: %v", err)
	}
}

func TestFlightGroupReusesPendingResult(t *testing.T) {
	g := newFlightGroup()
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	var wg sync.WaitGroup
	results := make([]*DataSourceInfo, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := g.do(context.Background(), "ds", func(context.Context) (*DataSourceInfo, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				<-release
				return &DataSourceInfo{ID: "ds"}, nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
			results[i] = info
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected one collection, got %d", calls)
	}
	for _, r := range results[1:] {
		if r != results[0] {
			t.Fatalf("expected all callers to share the same result")
		}
	}
}
