// Package complexity implements regex-driven scoring of a SQL-ish
// predicate string into a ComplexityBreakdown and classification band, plus
// the should_use_two_phase decision rule.
package complexity

import (
	"math"
	"regexp"
	"strconv"

	"github.com/filtermate/spatialengine/model"
)

// Weights are the empirical per-operation costs from
var Weights = struct {
	Intersects      float64
	Contains        float64
	Equals          float64
	Buffer          float64
	BufferNegative  float64
	Exists          float64
	Union           float64
}{
	Intersects:     5,
	Contains:       8,
	Equals:         15,
	Buffer:         12,
	BufferNegative: 18,
	Exists:         20,
	Union:          15,
}

var (
	reIntersects = regexp.MustCompile(`(?i)ST_Intersects\(`)
	reContains   = regexp.MustCompile(`(?i)ST_Contains\(`)
	reEquals     = regexp.MustCompile(`(?i)ST_Equals\(`)
	reBuffer     = regexp.MustCompile(`(?i)ST_Buffer\(([^)]*)\)`)
	reExists     = regexp.MustCompile(`(?i)\bEXISTS\s*\(`)
	reUnion      = regexp.MustCompile(`(?i)ST_Union\(`)
	reTransform  = regexp.MustCompile(`(?i)ST_Transform\(`)
	reGeomFunc   = regexp.MustCompile(`(?i)\bST_[A-Za-z]+\(`)
	reSubquery   = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
)

// ComplexityBreakdown mirrors
type ComplexityBreakdown struct {
	SpatialPredicateCost float64
	BufferCost           float64
	TransformCost        float64
	GeometryFunctionCost float64
	SubqueryCost         float64
	VolumeMultiplier     float64
	TotalScore           float64
	Level                model.ComplexityLevel
}

// bufferIsNegative inspects a ST_Buffer(...) argument list for a leading
// negative distance argument, e.g. "geom, -50".
func bufferIsNegative(args string) bool {
	re := regexp.MustCompile(`,\s*(-?\d+(\.\d+)?)`)
	m := re.FindStringSubmatch(args)
	if len(m) < 2 {
		return false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return false
	}
	return v < 0
}

// Estimate scores sql for a predicate running over featureCount rows.
func Estimate(sql string, featureCount int64) ComplexityBreakdown {
	var b ComplexityBreakdown

	b.SpatialPredicateCost += float64(len(reIntersects.FindAllStringIndex(sql, -1))) * Weights.Intersects
	b.SpatialPredicateCost += float64(len(reContains.FindAllStringIndex(sql, -1))) * Weights.Contains
	b.SpatialPredicateCost += float64(len(reEquals.FindAllStringIndex(sql, -1))) * Weights.Equals

	for _, m := range reBuffer.FindAllStringSubmatch(sql, -1) {
		if bufferIsNegative(m[1]) {
			b.BufferCost += Weights.BufferNegative
		} else {
			b.BufferCost += Weights.Buffer
		}
	}

	b.TransformCost += float64(len(reTransform.FindAllStringIndex(sql, -1))) * 3

	// Count generic ST_ function calls not already scored above as a
	// small per-call geometry-function cost, so unweighted spatial
	// functions (e.g. ST_Within, ST_Distance) still contribute.
	generic := len(reGeomFunc.FindAllStringIndex(sql, -1))
	scored := len(reIntersects.FindAllStringIndex(sql, -1)) +
		len(reContains.FindAllStringIndex(sql, -1)) +
		len(reEquals.FindAllStringIndex(sql, -1)) +
		len(reBuffer.FindAllStringIndex(sql, -1)) +
		len(reTransform.FindAllStringIndex(sql, -1)) +
		len(reUnion.FindAllStringIndex(sql, -1))
	if generic > scored {
		b.GeometryFunctionCost += float64(generic-scored) * 2
	}

	b.GeometryFunctionCost += float64(len(reUnion.FindAllStringIndex(sql, -1))) * Weights.Union

	existsCount := len(reExists.FindAllStringIndex(sql, -1))
	b.SubqueryCost += float64(existsCount) * Weights.Exists
	subqueryCount := len(reSubquery.FindAllStringIndex(sql, -1))
	if subqueryCount > existsCount {
		b.SubqueryCost += float64(subqueryCount-existsCount) * 10
	}

	b.VolumeMultiplier = volumeMultiplier(featureCount)

	raw := b.SpatialPredicateCost + b.BufferCost + b.TransformCost + b.GeometryFunctionCost + b.SubqueryCost
	b.TotalScore = raw * b.VolumeMultiplier
	b.Level = classify(b.TotalScore)

	return b
}

func volumeMultiplier(featureCount int64) float64 {
	if featureCount < 1 {
		featureCount = 1
	}
	return 1 + math.Log10(math.Max(1, float64(featureCount)/10_000))*0.5
}

func classify(score float64) model.ComplexityLevel {
	switch {
	case score < 10:
		return model.ComplexityTrivial
	case score < 50:
		return model.ComplexitySimple
	case score < 150:
		return model.ComplexityModerate
	case score < 500:
		return model.ComplexityComplex
	default:
		return model.ComplexityVeryComplex
	}
}

// RecommendStrategy maps a classification band to the strategy
// recommendation table of
func RecommendStrategy(level model.ComplexityLevel) model.Strategy {
	switch level {
	case model.ComplexityTrivial, model.ComplexitySimple:
		return model.StrategyDirect
	case model.ComplexityModerate:
		return model.StrategyMaterialized
	case model.ComplexityComplex:
		return model.StrategyTwoPhase
	default:
		return model.StrategyProgressive
	}
}

// TwoPhaseInputs bundles the decision factors of should_use_two_phase.
type TwoPhaseInputs struct {
	Level             model.ComplexityLevel
	BoundsAvailable   bool
	HasBuffer         bool
	TargetFeatureCount int64
	HasSubqueries     bool
	SpatialPredicateCount int
}

// ShouldUseTwoPhase implements should_use_two_phase rule:
// true iff source bounds are available AND (level >= complex, OR buffer
// exists with >10k target features, OR subqueries exist with >5k, OR
// >50k features with >=2 spatial predicates).
func ShouldUseTwoPhase(in TwoPhaseInputs) bool {
	if !in.BoundsAvailable {
		return false
	}
	if in.Level == model.ComplexityComplex || in.Level == model.ComplexityVeryComplex {
		return true
	}
	if in.HasBuffer && in.TargetFeatureCount > 10_000 {
		return true
	}
	if in.HasSubqueries && in.TargetFeatureCount > 5_000 {
		return true
	}
	if in.TargetFeatureCount > 50_000 && in.SpatialPredicateCount >= 2 {
		return true
	}
	return false
}
