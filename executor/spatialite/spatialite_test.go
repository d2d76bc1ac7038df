package spatialite

import (
	"testing"

	"github.com/go-spatial/geom"
)

func TestRTreePrefilter(t *testing.T) {
	got := RTreePrefilter("roads", "geom", "pk", 0, 0, 10, 10)
	want := `pk IN (SELECT pkid FROM roads_rtree_geom WHERE xmin <= 10 AND xmax >= 0 AND ymin <= 10 AND ymax >= 0)`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCombinedPredicate(t *testing.T) {
	got := CombinedPredicate("a", "b")
	if got != "(a) AND (b)" {
		t.Fatalf("got %q", got)
	}
}

func TestHasExtent(t *testing.T) {
	if hasExtent(geom.Extent{}) {
		t.Fatal("expected zero extent to report no usable bounds")
	}
	if !hasExtent(geom.Extent{0, 0, 10, 10}) {
		t.Fatal("expected a positive-area extent to report usable bounds")
	}
	if hasExtent(geom.Extent{5, 5, 5, 5}) {
		t.Fatal("expected a degenerate zero-area extent to report no usable bounds")
	}
}
