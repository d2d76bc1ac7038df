package postgis

import (
	"testing"

	"github.com/filtermate/spatialengine/complexity"
	"github.com/filtermate/spatialengine/model"
)

func TestNormalizeColumnCase(t *testing.T) {
	got := normalizeColumnCase(`"Kind" = 'highway' AND "SURFACE" = 'paved'`)
	want := `"kind" = 'highway' AND "surface" = 'paved'`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNumericCast(t *testing.T) {
	got := numericCast(`"population" = '1000'`, map[string]bool{"population": true})
	want := `"population" = '1000'::numeric`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestChooseStrategyCTIDForcesDirect(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "ctid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1000}
	if got := ChooseStrategy(layer, `"geom" && ST_MakeEnvelope(0,0,1,1,4326)`, b, 1_000_000); got != model.StrategyDirect {
		t.Fatalf("expected direct for ctid pk, got %v", got)
	}
}

func TestChooseStrategyComplexLargeGoesTwoPhase(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 150}
	if got := ChooseStrategy(layer, `ST_Intersects("geom", ST_GeomFromText('POINT(0 0)',4326))`, b, 20_000); got != model.StrategyTwoPhase {
		t.Fatalf("expected two_phase, got %v", got)
	}
}

func TestChooseStrategyLargeSimpleGoesMaterialized(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 20}
	if got := ChooseStrategy(layer, `"kind" = 'highway'`, b, 20_000); got != model.StrategyMaterialized {
		t.Fatalf("expected materialized, got %v", got)
	}
}

func TestChooseStrategySmallSimpleGoesDirect(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 5}
	if got := ChooseStrategy(layer, `"kind" = 'highway'`, b, 500); got != model.StrategyDirect {
		t.Fatalf("expected direct, got %v", got)
	}
}

func TestChooseStrategyExpensiveExistsSpatialForcesMaterializedRegardlessOfCount(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	sql := `EXISTS (SELECT 1 FROM roads AS __source WHERE ST_Intersects("geom", __source.geom))`
	if got := ChooseStrategy(layer, sql, b, 10); got != model.StrategyMaterialized {
		t.Fatalf("expected materialized for expensive EXISTS+spatial expression, got %v", got)
	}
}

func TestChooseStrategyExpensiveExistsBufferForcesMaterialized(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	sql := `EXISTS (SELECT 1 FROM roads WHERE ST_Buffer("geom", 10) && "geom")`
	if got := ChooseStrategy(layer, sql, b, 10); got != model.StrategyMaterialized {
		t.Fatalf("expected materialized for expensive EXISTS+ST_Buffer expression, got %v", got)
	}
}

func TestChooseStrategyMVReferenceWithExistsForcesMaterialized(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	sql := `EXISTS (SELECT 1 FROM "filtermate_temp"."fm_temp_stage_abc123_def456" WHERE pk = gid)`
	if got := ChooseStrategy(layer, sql, b, 10); got != model.StrategyMaterialized {
		t.Fatalf("expected materialized for MV reference combined with EXISTS, got %v", got)
	}
}

func TestChooseStrategyNonexpensiveSmallStaysDirect(t *testing.T) {
	layer := model.LayerInfo{Provider: model.BackendPostgres, PKName: "gid"}
	b := complexity.ComplexityBreakdown{TotalScore: 1}
	if got := ChooseStrategy(layer, `"kind" = 'highway'`, b, 10); got != model.StrategyDirect {
		t.Fatalf("expected direct for a cheap small-count expression, got %v", got)
	}
}
