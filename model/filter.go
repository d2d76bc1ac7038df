package model

// FilterExpression is the compiled predicate to apply to target layers.
type FilterExpression struct {
	Raw                string
	SQL                string
	SpatialPredicates  []SpatialPredicate
	BufferValue        float64
	HasBuffer          bool
	BufferStyle        BufferStyle
	BufferExpression   string
	SourceGeometryWKT  string
	SourceSRID         int
	SourceFeatureCount int
}

// HasSpatialPredicates reports whether any spatial predicate is set.
func (f FilterExpression) HasSpatialPredicates() bool {
	return len(f.SpatialPredicates) > 0
}

// EffectiveBufferValue resolves the buffer_value / buffer_expression
// precedence rule: an explicit BufferValue always wins in the EXISTS
// path, and the WKT path only ever consults BufferValue.
func (f FilterExpression) EffectiveBufferValue() float64 {
	return f.BufferValue
}

// FilterStep is one ordered step of a FilterPlan.
type FilterStep struct {
	Kind             string
	Expression       string
	EstimatedOutput  int64
	Metadata         map[string]string
}

// FilterPlan is the execution intent produced by the strategy planner.
type FilterPlan struct {
	Strategy             Strategy
	Steps                []FilterStep
	EstimatedSelectivity float64
	EstimatedCost        float64
	ChunkSize            int
	UseSpatialIndex      bool
	AttributeFilter      string
	SpatialFilter        string
}

// FilterState is one entry in a layer's undo/redo history.
type FilterState struct {
	Expression  string
	Description string
	AppliedAt   int64 // unix nanos; caller supplies, engine never calls time.Now directly in library code paths that must be deterministic for tests
}

// FilterResult is the per-layer outcome of applying a filter.
type FilterResult struct {
	LayerID string
	Success bool
	Error   error
	Applied string
}
