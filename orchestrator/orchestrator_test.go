package orchestrator

import (
	"context"
	"testing"

	"github.com/go-spatial/geom"

	"github.com/filtermate/spatialengine/complexity"
	"github.com/filtermate/spatialengine/executor/ogr"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/model"
)

type fakeGeom struct{ empty bool }

func (g fakeGeom) IsEmpty() bool { return g.empty }

type fakeHandle struct{ id string }

func (h fakeHandle) ID() string { return h.id }

type fakeIterator struct{}

func (fakeIterator) Next(ctx context.Context) (host.Feature, bool, error) { return nil, false, nil }
func (fakeIterator) Close() error                                        { return nil }

type fakeHost struct {
	layers  map[string]model.LayerInfo
	subsets map[string]string
	applied map[string]string
}

func newFakeHost(layers map[string]model.LayerInfo) *fakeHost {
	return &fakeHost{layers: layers, subsets: map[string]string{}, applied: map[string]string{}}
}

func (h *fakeHost) Layers() (map[string]model.LayerInfo, error) { return h.layers, nil }
func (h *fakeHost) LayerByID(id string) (host.LayerHandle, bool) {
	if _, ok := h.layers[id]; !ok {
		return nil, false
	}
	return fakeHandle{id: id}, true
}
func (h *fakeHost) IterFeatures(handle host.LayerHandle, req host.FeatureRequest) (host.FeatureIterator, error) {
	return fakeIterator{}, nil
}
func (h *fakeHost) SubsetString(handle host.LayerHandle) (string, bool) {
	s, ok := h.subsets[handle.ID()]
	return s, ok
}
func (h *fakeHost) QueueSubsetStringApply(handle host.LayerHandle, sql string) error {
	h.subsets[handle.ID()] = sql
	h.applied[handle.ID()] = sql
	return nil
}
func (h *fakeHost) Transform(g host.Geometry, src, dst string) (host.Geometry, error) { return g, nil }
func (h *fakeHost) Buffer(g host.Geometry, d float64, segs int, style model.BufferStyle) (host.Geometry, error) {
	return g, nil
}
func (h *fakeHost) WKT(g host.Geometry) (string, error)              { return "POLYGON((0 0,1 0,1 1,0 1,0 0))", nil }
func (h *fakeHost) MakeValid(g host.Geometry) (host.Geometry, error) { return g, nil }
func (h *fakeHost) Union(geoms []host.Geometry) (host.Geometry, error) {
	if len(geoms) == 0 {
		return fakeGeom{}, nil
	}
	return geoms[0], nil
}
func (h *fakeHost) Relate(a, b host.Geometry, predicate model.SpatialPredicate) (bool, error) {
	return true, nil
}
func (h *fakeHost) DBConnectionFor(info model.LayerInfo) (host.Connection, bool) { return nil, false }

func testLayers() map[string]model.LayerInfo {
	return map[string]model.LayerInfo{
		"src": {LayerID: "src", Provider: model.BackendOgr, PKName: "fid", GeometryColumn: "geom", CRSAuthID: "EPSG:4326"},
		"t1":  {LayerID: "t1", Provider: model.BackendOgr, PKName: "fid", GeometryColumn: "geom", CRSAuthID: "EPSG:4326", FeatureCount: 10},
		"t2":  {LayerID: "t2", Provider: model.BackendOgr, PKName: "fid", GeometryColumn: "geom", CRSAuthID: "EPSG:4326", FeatureCount: 20},
	}
}

func newTestEngine(t *testing.T, h *fakeHost) *Engine {
	t.Helper()
	e, err := NewEngine(Deps{
		Host: h,
		Ogr:  ogr.New(h),
		Clock: func() int64 {
			return 1
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewEngineRequiresOgr(t *testing.T) {
	if _, err := NewEngine(Deps{Host: newFakeHost(testLayers())}); err == nil {
		t.Fatal("expected error when Ogr executor is not provided")
	}
}

func TestFilterAttributeOnlySourceThenTargets(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	results, err := e.Filter(context.Background(), Request{
		SourceLayerID:       "src",
		SourceAttributeExpr: `"kind" = 'a'`,
		TargetLayerIDs:      []string{"t1", "t2"},
		Filter:              model.FilterExpression{SQL: `"active" = true`},
		Description:         "attribute only",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if !r.Success {
			t.Fatalf("layer %s failed: %v", r.LayerID, r.Error)
		}
	}
	if h.applied["src"] == "" {
		t.Fatal("expected source layer subset string applied")
	}
	if !e.history("t1").CanUndo() {
		t.Fatal("expected t1 history to record the applied filter")
	}
	metrics := e.Metrics()
	if metrics.DirectExecutions != 2 {
		t.Fatalf("got %d direct executions, want 2", metrics.DirectExecutions)
	}
}

func TestFilterSourceLayerFailureAbortsRun(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	results, err := e.Filter(context.Background(), Request{
		SourceLayerID:       "missing",
		SourceAttributeExpr: `"kind" = 'a'`,
		TargetLayerIDs:      []string{"t1", "t2"},
		Filter:              model.FilterExpression{SQL: `"active" = true`},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected a single failed source-layer result, got %+v", results)
	}
	if _, ok := h.applied["t1"]; ok {
		t.Fatal("target layer t1 must not be touched when the source layer fails")
	}
}

func TestFilterSpatialPredicateDispatchesToOgr(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	results, err := e.Filter(context.Background(), Request{
		SourceGeometries: []host.Geometry{fakeGeom{}},
		SourceCRS:        "EPSG:4326",
		TargetLayerIDs:   []string{"t1"},
		Filter: model.FilterExpression{
			SpatialPredicates: []model.SpatialPredicate{model.PredicateIntersects},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("expected spatial filter to succeed, got %+v", results)
	}
}

func TestUnfilterRedoReset(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	_, err := e.Filter(context.Background(), Request{
		TargetLayerIDs: []string{"t1"},
		Filter:         model.FilterExpression{SQL: `"active" = true`},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// t1 is an OGR layer: the executor applies a FID subset, and the fake
	// host's iterator yields no features, so no FID survives.
	if h.subsets["t1"] != `fid IN (-1)` {
		t.Fatalf("got %q", h.subsets["t1"])
	}

	undo := e.Unfilter(context.Background(), []string{"t1"})
	if !undo[0].Success || undo[0].Applied != "" {
		t.Fatalf("expected undo to clear subset, got %+v", undo)
	}
	if h.subsets["t1"] != "" {
		t.Fatalf("expected host subset cleared, got %q", h.subsets["t1"])
	}

	redo := e.Redo(context.Background(), []string{"t1"})
	if !redo[0].Success || redo[0].Applied != `fid IN (-1)` {
		t.Fatalf("expected redo to reapply prior filter, got %+v", redo)
	}

	reset := e.Reset(context.Background(), []string{"t1"})
	if !reset[0].Success || reset[0].Applied != "" {
		t.Fatalf("expected reset to clear, got %+v", reset)
	}
	if e.history("t1").CanUndo() {
		t.Fatal("expected history cleared after reset")
	}
}

func TestRedoUnavailableAfterNewFilter(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	apply := func(expr string) {
		if _, err := e.Filter(context.Background(), Request{
			TargetLayerIDs: []string{"t1"},
			Filter:         model.FilterExpression{SQL: expr},
		}, nil); err != nil {
			t.Fatal(err)
		}
	}
	apply(`"a" = 1`)
	e.Unfilter(context.Background(), []string{"t1"})
	apply(`"b" = 2`)

	if e.history("t1").CanRedo() {
		t.Fatal("expected redo to be unavailable after a new filter was pushed")
	}
}

func TestExportReturnsCurrentState(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	if _, err := e.Filter(context.Background(), Request{
		TargetLayerIDs: []string{"t1"},
		Filter:         model.FilterExpression{SQL: `"x" = 1`},
		Description:    "test export",
	}, nil); err != nil {
		t.Fatal(err)
	}

	data, err := e.Export("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty export")
	}
}

func TestExtentArea(t *testing.T) {
	if got := extentArea(geom.Extent{}); got != 0 {
		t.Fatalf("expected zero extent to report zero area, got %v", got)
	}
	if got := extentArea(geom.Extent{0, 0, 10, 5}); got != 50 {
		t.Fatalf("got %v want 50", got)
	}
	if got := extentArea(geom.Extent{5, 5, 5, 5}); got != 0 {
		t.Fatalf("expected degenerate extent to report zero area, got %v", got)
	}
}

func TestRefineStrategyNonPostgresKeepsGenericChoice(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendOgr, PKName: "fid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	got := refineStrategy(layer, `"kind" = 'a'`, b, model.StrategyAttributeFirst)
	if got != model.StrategyAttributeFirst {
		t.Fatalf("expected non-Postgres layers to keep the generic cascade's choice, got %v", got)
	}
}

func TestRefineStrategyPostgresOverridesGenericChoice(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	sql := `EXISTS (SELECT 1 FROM roads AS __source WHERE ST_Intersects("geom", __source.geom))`
	got := refineStrategy(layer, sql, b, model.StrategyDirect)
	if got != model.StrategyMaterialized {
		t.Fatalf("expected the postgres override table to force materialized for an expensive expression, got %v", got)
	}
}

func TestTargetExtentAreaFallsBackToLayerExtentWithoutStatsCache(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)
	layer := model.LayerInfo{LayerID: "t1", Extent: geom.Extent{0, 0, 10, 10}}
	if got := e.targetExtentArea(layer); got != 100 {
		t.Fatalf("got %v want 100", got)
	}
}

func TestFilterCancellationAbortsRemainingLayers(t *testing.T) {
	h := newFakeHost(testLayers())
	e := newTestEngine(t, h)

	results, err := e.Filter(context.Background(), Request{
		TargetLayerIDs: []string{"t1", "t2"},
		Filter:         model.FilterExpression{SQL: `"x" = 1`},
	}, func(fraction float64) {
		e.Cancel() // cancel after the first layer's chunk boundary
	})
	if _, ok := err.(model.ErrAbortedByUser); !ok {
		t.Fatalf("expected ErrAbortedByUser, got %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one layer processed before cancellation, got %+v", results)
	}
}
