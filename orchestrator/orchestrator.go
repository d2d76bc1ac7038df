// Package orchestrator implements the top-level filter/unfilter/redo/
// reset/export task that drives the rest of the engine. It asks the
// strategy planner for a per-layer strategy using estimates from the
// complexity scorer and the host's layer statistics, stages and
// encodes the source geometry once per run, dispatches to the
// chosen backend executor, and records per-layer undo/redo history.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-spatial/geom"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/filtermate/spatialengine/complexity"
	"github.com/filtermate/spatialengine/executor"
	"github.com/filtermate/spatialengine/executor/ogr"
	"github.com/filtermate/spatialengine/executor/postgis"
	"github.com/filtermate/spatialengine/executor/spatialite"
	"github.com/filtermate/spatialengine/geostage"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/optimizer"
	"github.com/filtermate/spatialengine/planner"
	"github.com/filtermate/spatialengine/sourceenc"
	"github.com/filtermate/spatialengine/sqlsafe"
	"github.com/filtermate/spatialengine/viewmanager"
)

var log = fmlog.For("orchestrator")

// DefaultGeometryCacheEntries is the FIFO bound on the per-engine staged
// source geometry cache, keyed by (source fids, buffer value, target CRS).
const DefaultGeometryCacheEntries = 10

// ProgressFunc receives the running fraction of completed target layers
// (0..1) after each layer's filter attempt, win or lose.
type ProgressFunc func(fraction float64)

// builtExpr is the backend-neutral shape a chosen strategy compiles down
// to before dispatch: postgis/spatialite consume SQL, ogr consumes an
// attribute prefilter plus a spatial predicate closure.
type builtExpr struct {
	sql       string
	attrExpr  string
	fidColumn string
	predicate ogr.SpatialPredicateFunc
	combineOp model.CombineOperator
	strategy  model.Strategy
	sessionID string
	bounds    geom.Extent
	srid      int
}

// layerExecutor is the common shape the three concrete backend executors
// are adapted to, so the orchestrator can dispatch without a type switch at
// every call site.
type layerExecutor interface {
	Apply(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, built builtExpr) executor.Outcome
}

type postgisAdapter struct{ e *postgis.Executor }

func (a postgisAdapter) Apply(ctx context.Context, h host.LayerHandle, layer model.LayerInfo, b builtExpr) executor.Outcome {
	return a.e.Apply(ctx, h, layer, b.sql, b.combineOp, b.strategy, b.sessionID, b.bounds, b.srid)
}

type spatialiteAdapter struct{ e *spatialite.Executor }

func (a spatialiteAdapter) Apply(ctx context.Context, h host.LayerHandle, layer model.LayerInfo, b builtExpr) executor.Outcome {
	return a.e.Apply(ctx, h, layer, b.sql, b.combineOp, b.bounds)
}

type ogrAdapter struct{ e *ogr.Executor }

func (a ogrAdapter) Apply(ctx context.Context, h host.LayerHandle, layer model.LayerInfo, b builtExpr) executor.Outcome {
	return a.e.Apply(ctx, h, layer, b.attrExpr, b.fidColumn, b.predicate)
}

// Deps bundles the engine's collaborators. Ogr is required as the
// universal fallback; Postgis and Spatialite are optional (a project
// without that backend simply never routes a layer to it).
type Deps struct {
	Host              host.Host
	Postgis           *postgis.Executor
	Spatialite        *spatialite.Executor
	Ogr               *ogr.Executor
	Views             map[model.Backend]viewmanager.Port
	Stats             *complexity.StatsCache
	PlannerThresholds planner.Thresholds
	HistoryDepth      int
	GeometryCacheSize int
	// Clock supplies AppliedAt timestamps for history entries. Defaults
	// to the real wall clock; tests inject a fixed/incrementing clock
	// for deterministic FilterState.AppliedAt values.
	Clock func() int64
}

// Engine is the single top-level task described: it exposes
// filter/unfilter/redo/reset/export and owns per-layer history, the
// geometry memoization cache, and the session's metrics.
type Engine struct {
	deps     Deps
	session  *model.SessionState
	backends map[model.Backend]layerExecutor

	mu        sync.Mutex
	histories map[string]*model.LayerFilterHistory
	cache     *geometryCache
	canceled  int32
}

// NewEngine constructs an Engine with a fresh 8-hex session token, mirroring
// the session store's short session id. Ogr must be non-nil: it is the
// executor every other backend falls back to on timeout/cancellation.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Ogr == nil {
		return nil, errors.New("orchestrator: Deps.Ogr is required as the fallback executor")
	}
	if deps.Clock == nil {
		deps.Clock = func() int64 { return time.Now().UnixNano() }
	}
	if deps.PlannerThresholds == (planner.Thresholds{}) {
		deps.PlannerThresholds = planner.DefaultThresholds
	}

	sessionID := shortSessionToken()

	backends := map[model.Backend]layerExecutor{
		model.BackendOgr:    ogrAdapter{e: deps.Ogr},
		model.BackendMemory: ogrAdapter{e: deps.Ogr},
	}
	if deps.Postgis != nil {
		backends[model.BackendPostgres] = postgisAdapter{e: deps.Postgis}
	}
	if deps.Spatialite != nil {
		backends[model.BackendSpatiaLite] = spatialiteAdapter{e: deps.Spatialite}
	}

	return &Engine{
		deps:      deps,
		session:   model.NewSessionState(sessionID),
		backends:  backends,
		histories: make(map[string]*model.LayerFilterHistory),
		cache:     newGeometryCache(deps.GeometryCacheSize),
	}, nil
}

func shortSessionToken() string {
	raw := strings.ReplaceAll(uuid.New(), "-", "")
	if len(raw) > 8 {
		return raw[:8]
	}
	return raw
}

// SessionID returns the engine's session token.
func (e *Engine) SessionID() string { return e.session.SessionID }

// Metrics returns a snapshot of the session's execution counters.
func (e *Engine) Metrics() model.Metrics { return e.session.Metrics.Snapshot() }

// Cancel requests cooperative cancellation: the running Filter call checks
// this flag at every target-layer boundary and aborts. Filter clears the
// flag when it starts, so a Cancel made before a Filter call has no effect
// on it.
func (e *Engine) Cancel() { atomic.StoreInt32(&e.canceled, 1) }

func (e *Engine) canceledFlag() bool { return atomic.LoadInt32(&e.canceled) == 1 }

func (e *Engine) history(layerID string) *model.LayerFilterHistory {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.histories[layerID]
	if !ok {
		h = model.NewLayerFilterHistory(e.deps.HistoryDepth)
		e.histories[layerID] = h
	}
	return h
}

// Request bundles everything a filter run needs: the source layer's own
// narrowing step, the ordered target layers, and the shared filter
// expression (attribute + optional spatial predicates/buffer).
type Request struct {
	SourceLayerID       string
	SourceAttributeExpr string
	SourceFIDs          []int64
	SourceGeometries    []host.Geometry
	SourceCRS           string
	MapUnits            string
	BestMetricCRS       func() (string, error)
	SourceIsPostgres    bool
	SourceSchema        string
	SourceTable         string

	TargetLayerIDs   []string
	CombineOperators map[string]model.CombineOperator // per target layer id, default CombineAnd
	Filter           model.FilterExpression
	Description      string
}

func (r Request) combineFor(layerID string) model.CombineOperator {
	if r.CombineOperators == nil {
		return model.CombineAnd
	}
	if op, ok := r.CombineOperators[layerID]; ok {
		return op.Normalize()
	}
	return model.CombineAnd
}

// Filter runs the full filter action: source-layer-first, then each
// target layer in caller order, recording history for every layer that
// applies successfully. A source-layer failure aborts the whole run
// before any target layer is touched. A per-target-layer failure is
// recorded in that layer's FilterResult and does not stop the remaining
// layers. Cancellation is checked at each target-layer boundary.
func (e *Engine) Filter(ctx context.Context, req Request, progress ProgressFunc) ([]model.FilterResult, error) {
	atomic.StoreInt32(&e.canceled, 0)

	layers, err := e.deps.Host.Layers()
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: loading layers")
	}

	if req.SourceLayerID != "" && (req.SourceAttributeExpr != "" || len(req.SourceFIDs) > 0) {
		result := e.applySourceLayer(ctx, layers, req)
		if !result.Success {
			return []model.FilterResult{result}, nil
		}
	}

	var results []model.FilterResult
	hasSpatial := req.Filter.HasSpatialPredicates()
	n := len(req.TargetLayerIDs)

	for i, layerID := range req.TargetLayerIDs {
		if e.canceledFlag() || ctx.Err() != nil {
			return results, model.ErrAbortedByUser{}
		}

		layer, ok := layers[layerID]
		if !ok {
			results = append(results, model.FilterResult{LayerID: layerID, Success: false, Error: model.ErrUnsupportedLayer{Reason: "unknown layer id"}})
			e.reportProgress(progress, i, n)
			continue
		}

		res := e.applyTargetLayer(ctx, layer, req, hasSpatial)
		results = append(results, res)
		if res.Success {
			e.history(layerID).Push(model.FilterState{
				Expression:  res.Applied,
				Description: req.Description,
				AppliedAt:   e.deps.Clock(),
			})
		}
		e.reportProgress(progress, i, n)
	}

	return results, nil
}

func (e *Engine) reportProgress(progress ProgressFunc, i, n int) {
	if progress == nil || n == 0 {
		return
	}
	progress(float64(i+1) / float64(n))
}

// applySourceLayer narrows the source layer itself before any target
// layer is touched. Rejection here aborts the whole run.
func (e *Engine) applySourceLayer(ctx context.Context, layers map[string]model.LayerInfo, req Request) model.FilterResult {
	layer, ok := layers[req.SourceLayerID]
	if !ok {
		return model.FilterResult{LayerID: req.SourceLayerID, Success: false, Error: model.ErrUnsupportedLayer{Reason: "unknown source layer id"}}
	}
	handle, ok := e.deps.Host.LayerByID(req.SourceLayerID)
	if !ok {
		return model.FilterResult{LayerID: req.SourceLayerID, Success: false, Error: model.ErrNoConnection{LayerID: req.SourceLayerID}}
	}

	expr := req.SourceAttributeExpr
	if expr == "" && len(req.SourceFIDs) > 0 {
		expr = sqlsafe.MustQuoteIdent(layer.PKName) + " IN (" + sqlsafe.FormatInt64InList(req.SourceFIDs) + ")"
	}

	existing, _ := e.deps.Host.SubsetString(handle)
	combined := executor.CombineSubset(existing, model.CombineAnd, expr)
	if err := e.deps.Host.QueueSubsetStringApply(handle, combined); err != nil {
		return model.FilterResult{LayerID: req.SourceLayerID, Success: false, Error: err}
	}

	e.history(req.SourceLayerID).Push(model.FilterState{
		Expression:  combined,
		Description: req.Description,
		AppliedAt:   e.deps.Clock(),
	})

	return model.FilterResult{LayerID: req.SourceLayerID, Success: true, Applied: combined}
}

// applyTargetLayer chooses a strategy and backend for layer, builds the
// backend-appropriate expression, dispatches it, and retries once via OGR
// if the chosen backend forces a fallback (timeout/cancellation).
func (e *Engine) applyTargetLayer(ctx context.Context, layer model.LayerInfo, req Request, hasSpatial bool) model.FilterResult {
	handle, ok := e.deps.Host.LayerByID(layer.LayerID)
	if !ok {
		return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: model.ErrNoConnection{LayerID: layer.LayerID}}
	}

	var stagedWKT string
	var stagedSRID int
	var staged geostage.Result
	if hasSpatial {
		var err error
		staged, err = e.stageSourceGeometry(req, layer)
		if err != nil {
			return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: err}
		}
		stagedWKT = staged.WKT
		stagedSRID = parseSRID(layer.CRSAuthID)
	}

	built, backendKind, strategy, err := e.buildExpression(layer, req, staged, stagedWKT, stagedSRID, hasSpatial)
	if err != nil {
		return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: err}
	}

	backendKind = e.session.EffectiveBackend(layer.LayerID, backendKind)
	exec, ok := e.backends[backendKind]
	if !ok {
		return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: model.ErrUnsupportedLayer{Provider: string(backendKind), Reason: "no executor registered for backend"}}
	}

	outcome := exec.Apply(ctx, handle, layer, built)
	e.recordStrategyMetric(strategy)

	if outcome.FinalState == executor.StateRetryViaOGR {
		e.session.ForceBackend(layer.LayerID, model.BackendOgr)
		e.session.Metrics.RecordOGRFallback()
		ogrBuilt, _, _, err := e.buildExpression(layer, req, staged, stagedWKT, stagedSRID, hasSpatial)
		if err != nil {
			return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: err}
		}
		outcome = e.backends[model.BackendOgr].Apply(ctx, handle, layer, ogrBuilt)
	}

	if outcome.FinalState != executor.StateDone {
		return model.FilterResult{LayerID: layer.LayerID, Success: false, Error: outcome.Err}
	}

	if e.deps.Stats != nil {
		if err := e.deps.Stats.Invalidate(layer.LayerID); err != nil {
			log.WithField("layer", layer.LayerID).WithError(err).Debug("stats cache invalidation failed")
		}
	}

	return model.FilterResult{LayerID: layer.LayerID, Success: true, Applied: outcome.AppliedSQL}
}

func (e *Engine) recordStrategyMetric(strategy model.Strategy) {
	switch strategy {
	case model.StrategyMaterialized:
		e.session.Metrics.RecordMV()
	case model.StrategyTwoPhase:
		e.session.Metrics.RecordTwoPhase()
	case model.StrategyProgressive, model.StrategyProgressiveChunks, model.StrategyLazyCursor:
		e.session.Metrics.RecordProgressive()
	default:
		e.session.Metrics.RecordDirect()
	}
}

// stageSourceGeometry runs the deterministic CRS/dissolve/buffer sequence
// once per (source fids, buffer value, target CRS) combination, reusing a
// cached result across target layers that share a CRS.
func (e *Engine) stageSourceGeometry(req Request, layer model.LayerInfo) (geostage.Result, error) {
	key := newGeometryCacheKey(req.SourceFIDs, req.Filter.EffectiveBufferValue(), layer.CRSAuthID)

	e.mu.Lock()
	if cached, ok := e.cache.get(key); ok {
		e.mu.Unlock()
		e.session.Metrics.RecordCacheHit()
		return cached, nil
	}
	e.mu.Unlock()

	result, err := geostage.Stage(e.deps.Host, geostage.Request{
		SourceGeometries: req.SourceGeometries,
		SourceCRS:        req.SourceCRS,
		MapUnits:         req.MapUnits,
		BestMetricCRS:    req.BestMetricCRS,
		BufferValue:      req.Filter.EffectiveBufferValue(),
		HasBuffer:        req.Filter.HasBuffer,
		BufferStyle:      req.Filter.BufferStyle,
		TargetCRS:        layer.CRSAuthID,
	})
	if err != nil {
		return geostage.Result{}, err
	}

	e.mu.Lock()
	e.cache.put(key, result)
	e.mu.Unlock()
	return result, nil
}

// extentArea returns ext's bounding-box area, or 0 for a degenerate or
// zero-value extent.
func extentArea(ext geom.Extent) float64 {
	w := ext[2] - ext[0]
	h := ext[3] - ext[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// targetExtentArea returns layer's full extent area, consulting the
// statistics cache first and filling it on a miss so later layers in the
// same run (or a later request) skip recomputing it from layer.Extent.
func (e *Engine) targetExtentArea(layer model.LayerInfo) float64 {
	if e.deps.Stats == nil {
		return extentArea(layer.Extent)
	}
	if stats, ok := e.deps.Stats.Get(layer.LayerID); ok {
		return stats.ExtentArea
	}
	area := extentArea(layer.Extent)
	stats := model.LayerStatistics{
		FeatureCount:    layer.FeatureCount,
		ExtentArea:      area,
		ExtentBounds:    layer.Extent,
		HasSpatialIndex: layer.HasSpatialIndex,
		GeometryType:    layer.GeometryType,
	}
	if err := e.deps.Stats.Set(layer.LayerID, stats); err != nil {
		log.WithField("layer", layer.LayerID).WithError(err).Debug("stats cache set failed")
	}
	return area
}

// refineStrategy applies the PostgreSQL-specific strategy override table on
// top of the planner's generic cascade result, using the real combined SQL
// and its complexity breakdown. Non-Postgres layers keep the generic
// cascade's choice unchanged.
func refineStrategy(layer model.LayerInfo, combined string, breakdown complexity.ComplexityBreakdown, generic model.Strategy) model.Strategy {
	if layer.Provider != model.BackendPostgres {
		return generic
	}
	return postgis.ChooseStrategy(layer, combined, breakdown, layer.FeatureCount)
}

// buildExpression compiles the combined attribute+spatial predicate into
// the shape the chosen backend consumes, returning which backend that
// plan naturally targets (before any forced-fallback override).
func (e *Engine) buildExpression(layer model.LayerInfo, req Request, staged geostage.Result, stagedWKT string, stagedSRID int, hasSpatial bool) (builtExpr, model.Backend, model.Strategy, error) {
	attr := req.Filter.SQL
	sessionID := e.session.SessionID

	if !hasSpatial {
		breakdown := complexity.Estimate(attr, layer.FeatureCount)
		strategy := e.deps.PlannerThresholds.Choose(planner.Inputs{
			TargetFeatureCount:   layer.FeatureCount,
			AttributeSelectivity: 0.5,
			ComplexityLevel:      breakdown.Level,
			HasAttributeFilter:   attr != "",
		})
		strategy = refineStrategy(layer, attr, breakdown, strategy)
		return builtExpr{
			sql:       attr,
			attrExpr:  attr,
			fidColumn: layer.PKName,
			combineOp: req.combineFor(layer.LayerID),
			strategy:  strategy,
			sessionID: sessionID,
		}, layer.Provider, strategy, nil
	}

	ordered := sourceenc.OrderPredicates(req.Filter.SpatialPredicates)

	enc := sourceenc.Choose(sourceenc.Input{
		StagedWKT:          stagedWKT,
		SRID:               stagedSRID,
		SourceFeatureCount: req.Filter.SourceFeatureCount,
		TargetBackend:      layer.Provider,
		TargetGeomColumn:   sqlsafe.MustQuoteIdent(layer.GeometryColumn),
		SourceIsPostgres:   req.SourceIsPostgres,
		SourceSchema:       req.SourceSchema,
		SourceTable:        req.SourceTable,
		SourceFilter:       req.SourceAttributeExpr,
	})

	var clauses []string
	for _, p := range ordered {
		clauses = append(clauses, sourceenc.PredicateSQL(p, sqlsafe.MustQuoteIdent(layer.GeometryColumn), enc.SourceGeomSQL))
	}
	combined := strings.Join(clauses, " OR ")
	if len(clauses) > 1 {
		combined = "(" + combined + ")"
	}
	if attr != "" {
		combined = fmt.Sprintf("(%s) AND (%s)", attr, combined)
	}

	if layer.Provider == model.BackendPostgres {
		analysis := optimizer.Analyze(combined)
		if len(analysis.Warnings) > 0 {
			log.WithField("layer", layer.LayerID).WithField("warnings", analysis.Warnings).Debug("optimizer flagged query")
		}
	}

	breakdown := complexity.Estimate(combined, layer.FeatureCount)
	spatialSelectivity := planner.EstimateSpatialSelectivity(extentArea(staged.Bounds), e.targetExtentArea(layer))

	strategy := e.deps.PlannerThresholds.Choose(planner.Inputs{
		TargetFeatureCount:   layer.FeatureCount,
		AttributeSelectivity: 0.5,
		SpatialSelectivity:   spatialSelectivity,
		ComplexityLevel:      breakdown.Level,
		HasAttributeFilter:   attr != "",
		HasSpatialFilter:     true,
	})
	strategy = refineStrategy(layer, combined, breakdown, strategy)

	predicate := func(g host.Geometry) (bool, error) {
		for _, p := range ordered {
			ok, err := e.deps.Host.Relate(g, staged.Geometry, p)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	return builtExpr{
		sql:       combined,
		attrExpr:  attr,
		fidColumn: layer.PKName,
		predicate: predicate,
		combineOp: req.combineFor(layer.LayerID),
		strategy:  strategy,
		sessionID: sessionID,
		bounds:    staged.Bounds,
		srid:      stagedSRID,
	}, layer.Provider, strategy, nil
}

func parseSRID(crsAuthID string) int {
	var code int
	_, err := fmt.Sscanf(crsAuthID, "EPSG:%d", &code)
	if err != nil {
		return 4326
	}
	return code
}

// Unfilter implements the undo action: each layer's previous FilterState
// is restored; layers with no history are cleared entirely.
func (e *Engine) Unfilter(ctx context.Context, layerIDs []string) []model.FilterResult {
	var results []model.FilterResult
	for _, id := range layerIDs {
		results = append(results, e.restoreOrClear(id, e.history(id).Undo))
	}
	return results
}

// Redo reapplies a layer's next history entry, if one exists (i.e. no new
// filter has been pushed since the last undo). A layer with nothing to redo
// keeps its current subset and reports its current expression.
func (e *Engine) Redo(ctx context.Context, layerIDs []string) []model.FilterResult {
	var results []model.FilterResult
	for _, id := range layerIDs {
		h := e.history(id)
		if !h.CanRedo() {
			cur, _ := h.Current()
			results = append(results, model.FilterResult{LayerID: id, Success: true, Applied: cur.Expression})
			continue
		}
		results = append(results, e.restoreOrClear(id, h.Redo))
	}
	return results
}

func (e *Engine) restoreOrClear(layerID string, step func() (model.FilterState, bool)) model.FilterResult {
	handle, ok := e.deps.Host.LayerByID(layerID)
	if !ok {
		return model.FilterResult{LayerID: layerID, Success: false, Error: model.ErrNoConnection{LayerID: layerID}}
	}
	state, ok := step()
	expr := ""
	if ok {
		expr = state.Expression
	}
	if err := e.deps.Host.QueueSubsetStringApply(handle, expr); err != nil {
		return model.FilterResult{LayerID: layerID, Success: false, Error: err}
	}
	return model.FilterResult{LayerID: layerID, Success: true, Applied: expr}
}

// Reset pops every named layer back to its base (unfiltered) state and
// drops every materialized view/temp table this session created. Because
// viewmanager.Port.Cleanup is scoped to the whole session rather than
// individual layers, Reset drops all session views rather than only the
// named layers' views; this matches the session-teardown cleanup path and
// is the conservative direction to err in (never leaving a stale view
// behind).
func (e *Engine) Reset(ctx context.Context, layerIDs []string) []model.FilterResult {
	var results []model.FilterResult
	for _, id := range layerIDs {
		handle, ok := e.deps.Host.LayerByID(id)
		if !ok {
			results = append(results, model.FilterResult{LayerID: id, Success: false, Error: model.ErrNoConnection{LayerID: id}})
			continue
		}
		e.history(id).Reset()
		if err := e.deps.Host.QueueSubsetStringApply(handle, ""); err != nil {
			results = append(results, model.FilterResult{LayerID: id, Success: false, Error: err})
			continue
		}
		results = append(results, model.FilterResult{LayerID: id, Success: true, Applied: ""})
	}
	for _, port := range e.deps.Views {
		if _, err := port.Cleanup(e.session.SessionID); err != nil {
			log.WithError(err).Warn("view cleanup during reset reported an error")
		}
	}
	return results
}

// exportedState is the wire form Export produces: the layer's currently
// applied filter plus enough context to reapply it elsewhere.
type exportedState struct {
	LayerID     string `json:"layer_id"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
	AppliedAt   int64  `json:"applied_at"`
}

// Export serializes a layer's currently-applied filter state.
func (e *Engine) Export(layerID string) ([]byte, error) {
	state, ok := e.history(layerID).Current()
	if !ok {
		return json.Marshal(exportedState{LayerID: layerID})
	}
	return json.Marshal(exportedState{
		LayerID:     layerID,
		Expression:  state.Expression,
		Description: state.Description,
		AppliedAt:   state.AppliedAt,
	})
}

// Close drops every view this session created across all registered
// backends, swallowing per-backend errors so one stuck backend doesn't
// block teardown of the rest.
func (e *Engine) Close() {
	for _, port := range e.deps.Views {
		if _, err := port.Cleanup(e.session.SessionID); err != nil {
			log.WithError(err).Warn("view cleanup on close reported an error")
		}
	}
}
