package orchestrator

import (
	"testing"

	"github.com/filtermate/spatialengine/geostage"
)

func TestGeometryCacheHitAndMiss(t *testing.T) {
	c := newGeometryCache(2)
	k1 := newGeometryCacheKey([]int64{1, 2}, 5, "EPSG:4326")

	if _, ok := c.get(k1); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.put(k1, geostage.Result{WKT: "POINT(0 0)"})
	if r, ok := c.get(k1); !ok || r.WKT != "POINT(0 0)" {
		t.Fatalf("expected cache hit, got %v %v", r, ok)
	}
}

func TestGeometryCacheFIFOEviction(t *testing.T) {
	c := newGeometryCache(2)
	k1 := newGeometryCacheKey([]int64{1}, 0, "EPSG:4326")
	k2 := newGeometryCacheKey([]int64{2}, 0, "EPSG:4326")
	k3 := newGeometryCacheKey([]int64{3}, 0, "EPSG:4326")

	c.put(k1, geostage.Result{WKT: "a"})
	c.put(k2, geostage.Result{WKT: "b"})
	c.put(k3, geostage.Result{WKT: "c"}) // evicts k1, the oldest

	if _, ok := c.get(k1); ok {
		t.Fatal("expected k1 evicted")
	}
	if _, ok := c.get(k2); !ok {
		t.Fatal("expected k2 still cached")
	}
	if _, ok := c.get(k3); !ok {
		t.Fatal("expected k3 cached")
	}
}

func TestGeometryCacheDefaultSize(t *testing.T) {
	c := newGeometryCache(0)
	if c.maxEntries != DefaultGeometryCacheEntries {
		t.Fatalf("got %d want %d", c.maxEntries, DefaultGeometryCacheEntries)
	}
}
