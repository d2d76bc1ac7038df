package complexity

import (
	"testing"

	"github.com/filtermate/spatialengine/model"
)

func TestEstimateSimplePredicate(t *testing.T) {
	b := Estimate(`ST_Intersects(target.geom, src.geom)`, 100)
	if b.Level != model.ComplexityTrivial && b.Level != model.ComplexitySimple {
		t.Fatalf("expected a low-cost classification, got %v (score=%v)", b.Level, b.TotalScore)
	}
}

func TestEstimateNegativeBufferCostsMore(t *testing.T) {
	pos := Estimate(`ST_Intersects(ST_Buffer(g, 10), t)`, 1)
	neg := Estimate(`ST_Intersects(ST_Buffer(g, -10), t)`, 1)
	if neg.BufferCost <= pos.BufferCost {
		t.Fatalf("expected negative buffer to cost more: pos=%v neg=%v", pos.BufferCost, neg.BufferCost)
	}
}

func TestEstimateExistsAddsSubqueryCost(t *testing.T) {
	b := Estimate(`EXISTS (SELECT 1 FROM x WHERE ST_Intersects(a,b))`, 1)
	if b.SubqueryCost <= 0 {
		t.Fatalf("expected subquery cost from EXISTS, got %v", b.SubqueryCost)
	}
}

func TestVolumeMultiplierGrowsWithFeatureCount(t *testing.T) {
	low := volumeMultiplier(1_000)
	high := volumeMultiplier(1_000_000)
	if high <= low {
		t.Fatalf("expected multiplier to grow with feature count: low=%v high=%v", low, high)
	}
	if volumeMultiplier(10_000) != 1.0 {
		t.Fatalf("expected multiplier of exactly 1.0 at the 10k baseline, got %v", volumeMultiplier(10_000))
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  model.ComplexityLevel
	}{
		{9.999, model.ComplexityTrivial},
		{10, model.ComplexitySimple},
		{49.999, model.ComplexitySimple},
		{50, model.ComplexityModerate},
		{149.999, model.ComplexityModerate},
		{150, model.ComplexityComplex},
		{499.999, model.ComplexityComplex},
		{500, model.ComplexityVeryComplex},
	}
	for _, c := range cases {
		if got := classify(c.score); got != c.want {
			t.Errorf("classify(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestRecommendStrategyTable(t *testing.T) {
	cases := map[model.ComplexityLevel]model.Strategy{
		model.ComplexityTrivial:    model.StrategyDirect,
		model.ComplexitySimple:     model.StrategyDirect,
		model.ComplexityModerate:   model.StrategyMaterialized,
		model.ComplexityComplex:    model.StrategyTwoPhase,
		model.ComplexityVeryComplex: model.StrategyProgressive,
	}
	for level, want := range cases {
		if got := RecommendStrategy(level); got != want {
			t.Errorf("RecommendStrategy(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestShouldUseTwoPhaseRequiresBounds(t *testing.T) {
	in := TwoPhaseInputs{Level: model.ComplexityVeryComplex, BoundsAvailable: false}
	if ShouldUseTwoPhase(in) {
		t.Fatal("expected false when bounds are unavailable regardless of complexity")
	}
}

func TestShouldUseTwoPhaseComplexLevel(t *testing.T) {
	in := TwoPhaseInputs{Level: model.ComplexityComplex, BoundsAvailable: true}
	if !ShouldUseTwoPhase(in) {
		t.Fatal("expected true for complex level with bounds available")
	}
}

func TestShouldUseTwoPhaseBufferThreshold(t *testing.T) {
	below := TwoPhaseInputs{Level: model.ComplexitySimple, BoundsAvailable: true, HasBuffer: true, TargetFeatureCount: 10_000}
	above := TwoPhaseInputs{Level: model.ComplexitySimple, BoundsAvailable: true, HasBuffer: true, TargetFeatureCount: 10_001}
	if ShouldUseTwoPhase(below) {
		t.Fatal("expected false at exactly 10,000 target features")
	}
	if !ShouldUseTwoPhase(above) {
		t.Fatal("expected true above 10,000 target features with a buffer")
	}
}

func TestShouldUseTwoPhaseVolumeAndPredicateCount(t *testing.T) {
	in := TwoPhaseInputs{
		Level: model.ComplexitySimple, BoundsAvailable: true,
		TargetFeatureCount: 50_001, SpatialPredicateCount: 2,
	}
	if !ShouldUseTwoPhase(in) {
		t.Fatal("expected true for >50k features with >=2 spatial predicates")
	}
	in.SpatialPredicateCount = 1
	if ShouldUseTwoPhase(in) {
		t.Fatal("expected false with only 1 spatial predicate")
	}
}
