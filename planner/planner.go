// Package planner implements the cascading strategy-selection rules that
// turn a target layer's feature count, selectivity estimates, and
// complexity classification into a model.Strategy, plus the selectivity
// estimators that feed the cascade.
package planner

import (
	"math"

	"github.com/filtermate/spatialengine/model"
)

// Thresholds are the cascade's size cutoffs. config.Config.PlannerThresholds
// returns DefaultThresholds; a different set can be passed through
// orchestrator.Deps.PlannerThresholds.
type Thresholds struct {
	DirectMaxFeatures            int64
	AttributeFirstMinFeatures    int64
	AttributeFirstMaxSelectivity float64
	BboxThenExactMinFeatures     int64
	BboxThenExactMaxSelectivity  float64
	ProgressiveChunksMinFeatures int64
	ProgressiveChunkSizeBase     int64
}

// DefaultThresholds is the engine's out-of-the-box cascade configuration.
var DefaultThresholds = Thresholds{
	DirectMaxFeatures:            1_000,
	AttributeFirstMinFeatures:    1_000,
	AttributeFirstMaxSelectivity: 0.3,
	BboxThenExactMinFeatures:     50_000,
	BboxThenExactMaxSelectivity:  0.5,
	ProgressiveChunksMinFeatures: 200_000,
	ProgressiveChunkSizeBase:     10_000,
}

// Inputs bundles everything the cascade needs to choose a strategy.
type Inputs struct {
	TargetFeatureCount   int64
	AttributeSelectivity float64 // [0,1], estimated fraction of rows an attribute filter keeps
	SpatialSelectivity   float64 // [0,1], estimated fraction of rows a spatial predicate keeps
	ComplexityLevel      model.ComplexityLevel
	HasAttributeFilter   bool
	HasSpatialFilter     bool
}

// ChunkSize returns the progressive-chunks page size for featureCount,
// shrinking geometrically as the result set grows so memory stays bounded:
// base / (1 + log10(featureCount / base)).
func (t Thresholds) ChunkSize(featureCount int64) int64 {
	if featureCount <= t.ProgressiveChunksMinFeatures {
		return t.ProgressiveChunkSizeBase
	}
	ratio := float64(featureCount) / float64(t.ProgressiveChunkSizeBase)
	divisor := 1 + math.Log10(ratio)
	size := float64(t.ProgressiveChunkSizeBase) / divisor
	if size < 1000 {
		size = 1000
	}
	return int64(size)
}

// Choose runs the cascading strategy-selection rules, in priority order:
// small result sets go direct; a selective attribute filter narrows
// before any spatial work; a weakly-selective spatial predicate over a
// large table goes through a bbox prefilter before the exact predicate;
// very large result sets page through progressive chunks; anything else
// falls through to a hybrid plan combining the above.
func (t Thresholds) Choose(in Inputs) model.Strategy {
	if in.TargetFeatureCount <= t.DirectMaxFeatures {
		return model.StrategyDirect
	}

	if in.HasAttributeFilter &&
		in.AttributeSelectivity < t.AttributeFirstMaxSelectivity &&
		in.TargetFeatureCount > t.AttributeFirstMinFeatures {
		return model.StrategyAttributeFirst
	}

	if in.HasSpatialFilter &&
		in.SpatialSelectivity < t.BboxThenExactMaxSelectivity &&
		in.TargetFeatureCount > t.BboxThenExactMinFeatures {
		return model.StrategyBboxThenExact
	}

	if in.TargetFeatureCount > t.ProgressiveChunksMinFeatures {
		return model.StrategyProgressiveChunks
	}

	return model.StrategyHybrid
}

// SampleEvaluator evaluates an attribute expression against a bounded
// sample of rows from a layer, used to estimate attribute selectivity
// without a full table scan.
type SampleEvaluator interface {
	// EvalSample returns how many of up to sampleSize rows satisfy expr,
	// and how many rows were actually sampled (may be less than
	// sampleSize for small layers).
	EvalSample(layerID, expr string, sampleSize int) (matched, sampled int, err error)
}

// DefaultSampleSize is the number of rows sampled to estimate attribute
// selectivity when the caller doesn't override it.
const DefaultSampleSize = 200

// EstimateAttributeSelectivity samples up to DefaultSampleSize rows and
// returns the fraction that satisfy expr. A sample of zero rows (empty
// layer) is reported as fully selective (0.0) since there is nothing to
// filter down.
func EstimateAttributeSelectivity(ev SampleEvaluator, layerID, expr string) (float64, error) {
	matched, sampled, err := ev.EvalSample(layerID, expr, DefaultSampleSize)
	if err != nil {
		return 0, err
	}
	if sampled == 0 {
		return 0, nil
	}
	return float64(matched) / float64(sampled), nil
}

// EstimateSpatialSelectivity derives spatial selectivity from the ratio of
// the source geometry's bounding-box area to the target layer's full
// extent area, damped by 0.7 since a bbox overlap overestimates the exact
// predicate's true selectivity (the exact geometry is never larger than
// its bbox), and clamped to [0, 1].
func EstimateSpatialSelectivity(overlapArea, targetExtentArea float64) float64 {
	if targetExtentArea <= 0 {
		return 1
	}
	ratio := (overlapArea / targetExtentArea) * 0.7
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
