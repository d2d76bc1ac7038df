package model

// Backend identifies which execution engine a layer is served by.
type Backend string

const (
	BackendPostgres   Backend = "postgres"
	BackendSpatiaLite Backend = "spatialite"
	BackendOgr        Backend = "ogr"
	BackendMemory     Backend = "memory"
)

// Valid reports whether b is one of the known backends.
func (b Backend) Valid() bool {
	switch b {
	case BackendPostgres, BackendSpatiaLite, BackendOgr, BackendMemory:
		return true
	}
	return false
}

// SpatialPredicate enumerates the supported spatial relationship tests.
type SpatialPredicate string

const (
	PredicateIntersects SpatialPredicate = "intersects"
	PredicateWithin     SpatialPredicate = "within"
	PredicateContains   SpatialPredicate = "contains"
	PredicateOverlaps   SpatialPredicate = "overlaps"
	PredicateTouches    SpatialPredicate = "touches"
	PredicateCrosses    SpatialPredicate = "crosses"
	PredicateDisjoint   SpatialPredicate = "disjoint"
	PredicateEquals     SpatialPredicate = "equals"
)

// CostTable is the fixed, immutable predicate-ordering cost table from
//: disjoint(1) < intersects(2) < touches(3) < crosses(4) <
// within(5) < contains(6) < overlaps(7) < equals(8).
var CostTable = map[SpatialPredicate]int{
	PredicateDisjoint:   1,
	PredicateIntersects: 2,
	PredicateTouches:    3,
	PredicateCrosses:    4,
	PredicateWithin:     5,
	PredicateContains:   6,
	PredicateOverlaps:   7,
	PredicateEquals:     8,
}

// BufferStyle is the endcap style carried into backend SQL as
// quad_segs=N endcap={round|flat|square}.
type BufferStyle string

const (
	BufferRound BufferStyle = "round"
	BufferFlat  BufferStyle = "flat"
	BufferSquare BufferStyle = "square"
)

// CombineOperator is how a new filter composes with an existing subset
// string. "AND NOT" and "NOT AND" are treated as aliases.
type CombineOperator string

const (
	CombineAnd    CombineOperator = "AND"
	CombineAndNot CombineOperator = "AND NOT"
	CombineOr     CombineOperator = "OR"
	// CombineReplace signals an explicit nil/None combine operator: the
	// old subset string is discarded rather than combined.
	CombineReplace CombineOperator = ""
)

// Normalize folds the UI alias "NOT AND" onto the canonical "AND NOT" form.
func (c CombineOperator) Normalize() CombineOperator {
	if c == "NOT AND" {
		return CombineAndNot
	}
	return c
}

// Strategy is the chosen FilterPlan execution strategy.
type Strategy string

const (
	StrategyDirect            Strategy = "direct"
	StrategyMaterialized      Strategy = "materialized"
	StrategyTwoPhase          Strategy = "two_phase"
	StrategyProgressive       Strategy = "progressive"
	StrategyLazyCursor        Strategy = "lazy_cursor"
	StrategyAttributeFirst    Strategy = "attribute_first"
	StrategyMultiStep         Strategy = "multi_step"
	StrategyBboxThenExact     Strategy = "bbox_then_exact"
	StrategyProgressiveChunks Strategy = "progressive_chunks"
	StrategyHybrid            Strategy = "hybrid"
)

// ComplexityLevel is the classification band produced by the complexity estimator.
type ComplexityLevel string

const (
	ComplexityTrivial     ComplexityLevel = "trivial"
	ComplexitySimple      ComplexityLevel = "simple"
	ComplexityModerate    ComplexityLevel = "moderate"
	ComplexityComplex     ComplexityLevel = "complex"
	ComplexityVeryComplex ComplexityLevel = "very_complex"
)
