package ogr

import (
	"context"
	"testing"

	"github.com/filtermate/spatialengine/executor"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/model"
)

func TestCompactFIDRanges(t *testing.T) {
	got := CompactFIDRanges([]int64{1, 2, 3, 7, 8, 10})
	want := "1-3,7-8,10"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCompactFIDRangesEmpty(t *testing.T) {
	if got := CompactFIDRanges(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestFIDSubsetExpressionEmpty(t *testing.T) {
	got := FIDSubsetExpression("fid", nil)
	if got != "fid IN (-1)" {
		t.Fatalf("got %q", got)
	}
}

func TestFIDSubsetExpressionCompactsContiguousRun(t *testing.T) {
	got := FIDSubsetExpression("fid", []int64{1, 2, 3})
	want := "(fid >= 1 AND fid <= 3)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFIDSubsetExpressionSingleID(t *testing.T) {
	got := FIDSubsetExpression("fid", []int64{5})
	want := "fid IN (5)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFIDSubsetExpressionFallsBackToINListWhenRangesDontCompact(t *testing.T) {
	got := FIDSubsetExpression("fid", []int64{1, 3, 5})
	want := "fid IN (1,3,5)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFIDSubsetExpressionMixedRangesAndSingles(t *testing.T) {
	got := FIDSubsetExpression("fid", []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 20})
	want := "(fid >= 1 AND fid <= 9) OR fid = 20"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

type fakeGeom struct{ empty bool }

func (g fakeGeom) IsEmpty() bool { return g.empty }

type fakeFeature struct {
	id   int64
	geom host.Geometry
}

func (f fakeFeature) ID() int64                                 { return f.id }
func (f fakeFeature) Geometry() host.Geometry                   { return f.geom }
func (f fakeFeature) Attribute(name string) (interface{}, bool) { return nil, false }

type fakeIterator struct {
	feats []host.Feature
	idx   int
}

func (it *fakeIterator) Next(ctx context.Context) (host.Feature, bool, error) {
	if it.idx >= len(it.feats) {
		return nil, false, nil
	}
	f := it.feats[it.idx]
	it.idx++
	return f, true, nil
}
func (it *fakeIterator) Close() error { return nil }

type fakeHandle struct{}

func (fakeHandle) ID() string { return "layer1" }

type fakeHost struct {
	feats   []host.Feature
	applied string
}

func (h *fakeHost) Layers() (map[string]model.LayerInfo, error) { return nil, nil }
func (h *fakeHost) LayerByID(id string) (host.LayerHandle, bool) { return fakeHandle{}, true }
func (h *fakeHost) IterFeatures(handle host.LayerHandle, req host.FeatureRequest) (host.FeatureIterator, error) {
	return &fakeIterator{feats: h.feats}, nil
}
func (h *fakeHost) SubsetString(handle host.LayerHandle) (string, bool) { return "", false }
func (h *fakeHost) QueueSubsetStringApply(handle host.LayerHandle, sql string) error {
	h.applied = sql
	return nil
}
func (h *fakeHost) Transform(g host.Geometry, src, dst string) (host.Geometry, error) { return g, nil }
func (h *fakeHost) Buffer(g host.Geometry, d float64, segs int, style model.BufferStyle) (host.Geometry, error) {
	return g, nil
}
func (h *fakeHost) WKT(g host.Geometry) (string, error)              { return "", nil }
func (h *fakeHost) MakeValid(g host.Geometry) (host.Geometry, error) { return g, nil }
func (h *fakeHost) Union(geoms []host.Geometry) (host.Geometry, error) { return nil, nil }
func (h *fakeHost) Relate(a, b host.Geometry, predicate model.SpatialPredicate) (bool, error) {
	return !a.IsEmpty(), nil
}
func (h *fakeHost) DBConnectionFor(info model.LayerInfo) (host.Connection, bool) { return nil, false }

func TestEvaluateSequentialSmallDataset(t *testing.T) {
	var feats []host.Feature
	for i := int64(1); i <= 10; i++ {
		feats = append(feats, fakeFeature{id: i, geom: fakeGeom{empty: i%2 == 0}})
	}
	fh := &fakeHost{feats: feats}
	e := New(fh)
	predicate := func(g host.Geometry) (bool, error) { return !g.IsEmpty(), nil }

	ids, err := e.evaluate(context.Background(), fakeHandle{}, "", predicate)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 3, 5, 7, 9}
	if len(ids) != len(want) {
		t.Fatalf("got %v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v want %v", ids, want)
		}
	}
}

func TestEvaluateSpatialPoolLargeDataset(t *testing.T) {
	var feats []host.Feature
	for i := int64(1); i <= int64(SequentialFallbackThreshold)+100; i++ {
		feats = append(feats, fakeFeature{id: i, geom: fakeGeom{empty: i%3 == 0}})
	}
	fh := &fakeHost{feats: feats}
	e := New(fh)
	predicate := func(g host.Geometry) (bool, error) { return !g.IsEmpty(), nil }

	ids, err := e.evaluate(context.Background(), fakeHandle{}, "", predicate)
	if err != nil {
		t.Fatal(err)
	}
	wantCount := 0
	for i := int64(1); i <= int64(SequentialFallbackThreshold)+100; i++ {
		if i%3 != 0 {
			wantCount++
		}
	}
	if len(ids) != wantCount {
		t.Fatalf("got %d survivors, want %d", len(ids), wantCount)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("expected survivors sorted ascending, got %v", ids)
		}
	}
}

func TestApplyQueuesSubsetString(t *testing.T) {
	fh := &fakeHost{feats: []host.Feature{fakeFeature{id: 1}, fakeFeature{id: 2}}}
	e := New(fh)
	outcome := e.Apply(context.Background(), fakeHandle{}, model.LayerInfo{LayerID: "layer1"}, "", "fid", nil)
	if outcome.FinalState != executor.StateDone {
		t.Fatalf("got state %v", outcome.FinalState)
	}
	if fh.applied != "fid IN (1,2)" {
		t.Fatalf("got applied=%q", fh.applied)
	}
}
