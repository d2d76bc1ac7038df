package planner

import (
	"testing"

	"github.com/filtermate/spatialengine/model"
)

func TestChooseDirectForSmallLayers(t *testing.T) {
	got := DefaultThresholds.Choose(Inputs{TargetFeatureCount: 1000})
	if got != model.StrategyDirect {
		t.Fatalf("expected direct at the boundary, got %v", got)
	}
	got = DefaultThresholds.Choose(Inputs{TargetFeatureCount: 1001})
	if got == model.StrategyDirect {
		t.Fatalf("expected non-direct just above the boundary, got %v", got)
	}
}

func TestChooseAttributeFirst(t *testing.T) {
	got := DefaultThresholds.Choose(Inputs{
		TargetFeatureCount: 5000, HasAttributeFilter: true, AttributeSelectivity: 0.1,
	})
	if got != model.StrategyAttributeFirst {
		t.Fatalf("expected attribute_first, got %v", got)
	}
}

func TestChooseBboxThenExact(t *testing.T) {
	got := DefaultThresholds.Choose(Inputs{
		TargetFeatureCount: 60_000, HasSpatialFilter: true, SpatialSelectivity: 0.2,
	})
	if got != model.StrategyBboxThenExact {
		t.Fatalf("expected bbox_then_exact, got %v", got)
	}
}

func TestChooseProgressiveChunks(t *testing.T) {
	got := DefaultThresholds.Choose(Inputs{TargetFeatureCount: 300_000})
	if got != model.StrategyProgressiveChunks {
		t.Fatalf("expected progressive_chunks, got %v", got)
	}
}

func TestChooseHybridFallback(t *testing.T) {
	got := DefaultThresholds.Choose(Inputs{TargetFeatureCount: 5000})
	if got != model.StrategyHybrid {
		t.Fatalf("expected hybrid fallback, got %v", got)
	}
}

func TestChunkSizeShrinksWithVolume(t *testing.T) {
	small := DefaultThresholds.ChunkSize(200_000)
	large := DefaultThresholds.ChunkSize(2_000_000)
	if small != DefaultThresholds.ProgressiveChunkSizeBase {
		t.Fatalf("expected base chunk size at threshold, got %d", small)
	}
	if large >= small {
		t.Fatalf("expected chunk size to shrink as volume grows: small=%d large=%d", small, large)
	}
	if large < 1000 {
		t.Fatalf("expected chunk size floor of 1000, got %d", large)
	}
}

type fakeEvaluator struct {
	matched, sampled int
	err              error
}

func (f fakeEvaluator) EvalSample(layerID, expr string, sampleSize int) (int, int, error) {
	return f.matched, f.sampled, f.err
}

func TestEstimateAttributeSelectivity(t *testing.T) {
	got, err := EstimateAttributeSelectivity(fakeEvaluator{matched: 50, sampled: 200}, "layer1", "kind = 'a'")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.25 {
		t.Fatalf("got %v, want 0.25", got)
	}
}

func TestEstimateAttributeSelectivityEmptyLayer(t *testing.T) {
	got, err := EstimateAttributeSelectivity(fakeEvaluator{matched: 0, sampled: 0}, "layer1", "kind = 'a'")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestEstimateSpatialSelectivityDampedAndClamped(t *testing.T) {
	got := EstimateSpatialSelectivity(50, 100)
	if got != 0.35 {
		t.Fatalf("got %v, want 0.35 (0.5 * 0.7 damping)", got)
	}
	got = EstimateSpatialSelectivity(1000, 100)
	if got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
	got = EstimateSpatialSelectivity(10, 0)
	if got != 1 {
		t.Fatalf("expected 1 when target extent area is zero, got %v", got)
	}
}
