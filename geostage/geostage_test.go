package geostage

import (
	"testing"

	"github.com/go-spatial/geom"

	"github.com/filtermate/spatialengine/model"
)

func TestIsGeographic(t *testing.T) {
	cases := map[string]bool{
		"EPSG:4326": true,
		"EPSG:4269": true,
		"EPSG:3857": false,
		"EPSG:2154": false,
		"EPSG:4999": true,
		"EPSG:5000": false,
	}
	for crs, want := range cases {
		if got := isGeographic(crs); got != want {
			t.Errorf("isGeographic(%q) = %v, want %v", crs, got, want)
		}
	}
}

func TestChooseStagingCRSGeographicDetour(t *testing.T) {
	crs, detoured, err := chooseStagingCRS(Request{
		SourceCRS:   "EPSG:4326",
		HasBuffer:   true,
		BufferValue: -50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !detoured || crs != WebMercatorCRS {
		t.Fatalf("expected detour to %s, got crs=%s detoured=%v", WebMercatorCRS, crs, detoured)
	}
}

func TestChooseStagingCRSNoBufferNoDetour(t *testing.T) {
	crs, detoured, err := chooseStagingCRS(Request{
		SourceCRS: "EPSG:4326",
		HasBuffer: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if detoured || crs != "EPSG:4326" {
		t.Fatalf("expected no detour, got crs=%s detoured=%v", crs, detoured)
	}
}

func TestChooseStagingCRSBestMetric(t *testing.T) {
	called := false
	crs, detoured, err := chooseStagingCRS(Request{
		SourceCRS: "EPSG:2100",
		MapUnits:  "us-foot",
		BestMetricCRS: func() (string, error) {
			called = true
			return "EPSG:2154", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if detoured {
		t.Fatal("non-geographic map-unit detour should not set the geographic-detour flag")
	}
	if !called || crs != "EPSG:2154" {
		t.Fatalf("expected BestMetricCRS to be consulted, got crs=%s called=%v", crs, called)
	}
}

func TestNegativeBufferSQLWrap(t *testing.T) {
	got := NegativeBufferSQLWrap("ST_Buffer(g, -50)")
	want := "CASE WHEN ST_IsEmpty(ST_MakeValid(ST_Buffer(g, -50))) THEN NULL ELSE ST_MakeValid(ST_Buffer(g, -50)) END"
	if got != want {
		t.Fatalf("got %q", got)
	}
}

func TestExtentFromWKTPolygon(t *testing.T) {
	wkt := "POLYGON((0 0, 10 0, 10 5, 0 5, 0 0))"
	got := extentFromWKT(wkt)
	want := geom.Extent{0, 0, 10, 5}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtentFromWKTMultiPointNegativeCoords(t *testing.T) {
	wkt := "MULTIPOINT((-10 -5), (3 7), (-2 20))"
	got := extentFromWKT(wkt)
	want := geom.Extent{-10, -5, 3, 20}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExtentFromWKTEmptyYieldsZeroExtent(t *testing.T) {
	got := extentFromWKT("POLYGON EMPTY")
	if got != (geom.Extent{}) {
		t.Fatalf("expected zero extent for unparsable WKT, got %v", got)
	}
}

func TestBufferStyleToken(t *testing.T) {
	if got := BufferStyleToken(5, model.BufferRound); got != "quad_segs=5 endcap=round" {
		t.Fatalf("got %q", got)
	}
	if got := BufferStyleToken(0, ""); got != "quad_segs=5 endcap=round" {
		t.Fatalf("defaults got %q", got)
	}
}
