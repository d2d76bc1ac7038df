// Package postgis is the PostgreSQL backend executor: it turns a
// model.FilterPlan into subset-string SQL, refines the orchestrator's
// generic strategy cascade with a PostgreSQL-specific override table, and
// dispatches to a materialized view, a bbox-then-exact two-phase plan, or
// a direct probe query accordingly.
package postgis

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx"

	"github.com/go-spatial/geom"

	"github.com/filtermate/spatialengine/complexity"
	"github.com/filtermate/spatialengine/executor"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/sqlsafe"
	"github.com/filtermate/spatialengine/viewmanager"
)

var log = fmlog.For("executor.postgis")

// StatementTimeout bounds how long a single filter-application query may
// run before the executor treats it as stuck and forces a fallback to the
// OGR executor for the remainder of the session.
const StatementTimeout = 30 * time.Second

// TwoPhaseComplexityThreshold and TwoPhaseFeatureThreshold gate the
// complex-plan-over-a-large-table case onto the two-phase strategy
// instead of a single combined query.
const (
	TwoPhaseComplexityThreshold  = 100
	TwoPhaseFeatureThreshold     = 10_000
	MaterializedFeatureThreshold = 10_000
)

// PhaseTwoChunkSize bounds how many candidate primary keys the exact phase
// of a two-phase plan re-tests in a single query.
const PhaseTwoChunkSize = 2000

// Deps bundles the executor's collaborators.
type Deps struct {
	Pool  *pgx.ConnPool
	Host  host.Host
	Views viewmanager.Port
}

// Executor applies filter plans to PostgreSQL-backed layers.
type Executor struct {
	deps Deps
}

// New constructs an Executor.
func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

var columnCaseRE = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"`)

// normalizeColumnCase lower-cases unquoted-looking identifiers PostgreSQL
// would otherwise fold, since host-supplied attribute names sometimes
// arrive in the embedding application's display case.
func normalizeColumnCase(sql string) string {
	return columnCaseRE.ReplaceAllStringFunc(sql, func(m string) string {
		inner := m[1 : len(m)-1]
		return `"` + strings.ToLower(inner) + `"`
	})
}

// numericCast wraps a literal comparison value with ::numeric when the
// target column is declared numeric-affinity but the host only gave us a
// string literal (e.g. attribute values sourced from a UI widget).
func numericCast(expr string, numericColumns map[string]bool) string {
	for col := range numericColumns {
		pattern := regexp.MustCompile(sqlsafe.MustQuoteIdent(col) + `\s*=\s*'([0-9.+-]+)'`)
		expr = pattern.ReplaceAllString(expr, sqlsafe.MustQuoteIdent(col)+` = '$1'::numeric`)
	}
	return expr
}

var (
	existsRE      = regexp.MustCompile(`(?i)\bEXISTS\s*\(`)
	mvTableRE     = regexp.MustCompile(`(?i)"filtermate_temp"\."fm_temp_`)
	sourceAliasRE = regexp.MustCompile(`__source\b`)
)

// isExpensiveExpression reports whether sql matches one of the shapes the
// PostgreSQL strategy table always routes to a materialized view
// regardless of target feature count: an EXISTS subquery testing a
// spatial predicate or wrapping ST_Buffer, an EXISTS subquery referencing
// one of the engine's own materialized temp tables, or a rewritten
// __source subquery alias combined with a spatial predicate.
func isExpensiveExpression(sql string) bool {
	hasExists := existsRE.MatchString(sql)
	hasSpatial := executor.ContainsSpatialPredicate(sql)
	if hasExists && hasSpatial {
		return true
	}
	if hasExists && mvTableRE.MatchString(sql) {
		return true
	}
	if hasSpatial && sourceAliasRE.MatchString(sql) {
		return true
	}
	return false
}

// ChooseStrategy implements the PostgreSQL-specific strategy override
// table on top of the planner's generic cascade: a ctid primary key
// forbids any materialized path (ctid is not a stable identity across
// VACUUM), an expression classified as expensive always gets a
// materialized view regardless of feature count, a complex plan over a
// large table goes two-phase, a merely large result goes through a
// materialized view, and anything else is applied directly.
func ChooseStrategy(layer model.LayerInfo, sql string, b complexity.ComplexityBreakdown, targetFeatureCount int64) model.Strategy {
	if layer.IsCTIDPrimaryKey() {
		return model.StrategyDirect
	}
	if isExpensiveExpression(sql) {
		return model.StrategyMaterialized
	}
	if b.TotalScore >= TwoPhaseComplexityThreshold && targetFeatureCount >= TwoPhaseFeatureThreshold {
		return model.StrategyTwoPhase
	}
	if targetFeatureCount >= MaterializedFeatureThreshold {
		return model.StrategyMaterialized
	}
	return model.StrategyDirect
}

func hasExtent(ext geom.Extent) bool {
	return ext[2] > ext[0] && ext[3] > ext[1]
}

func parseSRIDFromAuth(crsAuthID string) int {
	var code int
	if _, err := fmt.Sscanf(crsAuthID, "EPSG:%d", &code); err != nil {
		return 4326
	}
	return code
}

// Apply renders sql against handle's existing subset string and dispatches
// it per strategy: Materialized caches the filtered result behind a
// viewmanager-managed view and narrows the subset to a membership test
// against it; TwoPhase (and its BboxThenExact alias) prefilters candidates
// with a cheap ST_MakeEnvelope bbox test before chunking through the exact
// predicate; anything else runs the original flat probe. On a statement
// timeout or query cancellation, Apply reports StateRetryViaOGR so the
// caller (orchestrator) can force the layer onto the OGR executor and
// re-run the plan there.
func (e *Executor) Apply(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, sql string, op model.CombineOperator, strategy model.Strategy, sessionID string, bounds geom.Extent, srid int) executor.Outcome {
	sql = normalizeColumnCase(sql)
	existing, _ := e.deps.Host.SubsetString(handle)
	combined := executor.CombineSubset(existing, op.Normalize(), sql)

	switch strategy {
	case model.StrategyMaterialized:
		if e.deps.Views == nil {
			log.WithField("layer", layer.LayerID).Debug("materialized strategy chosen but no viewmanager wired; falling back to direct apply")
			return e.applyDirect(ctx, handle, layer, combined)
		}
		return e.applyMaterialized(ctx, handle, layer, combined, sessionID)
	case model.StrategyTwoPhase, model.StrategyBboxThenExact:
		return e.applyTwoPhase(ctx, handle, layer, existing, combined, op, bounds, srid)
	default:
		return e.applyDirect(ctx, handle, layer, combined)
	}
}

// applyMaterialized caches combined's result set behind a managed view and
// narrows handle's subset string to a membership test against it, so a
// repeat render re-evaluates a cheap PK lookup instead of the original
// expensive predicate.
func (e *Executor) applyMaterialized(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, combined, sessionID string) executor.Outcome {
	req := viewmanager.Request{
		Kind:          viewmanager.KindFilterResult,
		SessionID:     sessionID,
		Query:         fmt.Sprintf(`SELECT * FROM %s WHERE %s`, layer.QualifiedTable(), combined),
		PKColumn:      layer.PKName,
		PKIsNumeric:   layer.PKNumeric,
		GeomColumn:    layer.GeometryColumn,
		SRID:          parseSRIDFromAuth(layer.CRSAuthID),
		EstimatedRows: layer.FeatureCount,
	}
	info, cacheHit, err := e.deps.Views.Create(req)
	if err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	log.WithField("layer", layer.LayerID).WithField("view", info.Name).WithField("cache_hit", cacheHit).Debug("materialized filter result")

	quotedPK := sqlsafe.MustQuoteIdent(layer.PKName)
	qualifiedView := fmt.Sprintf("%s.%s", sqlsafe.MustQuoteIdent(info.Schema), sqlsafe.MustQuoteIdent(info.Name))
	subsetExpr := fmt.Sprintf("%s IN (SELECT %s FROM %s)", quotedPK, quotedPK, qualifiedView)

	if err := e.deps.Host.QueueSubsetStringApply(handle, subsetExpr); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	return executor.Outcome{FinalState: executor.StateDone, AppliedSQL: subsetExpr, RowsAffected: info.RowCount}
}

// applyTwoPhase runs a cheap bbox prefilter over bounds to gather candidate
// primary keys, then re-tests combined against those candidates in
// PhaseTwoChunkSize batches, so the expensive exact predicate only ever
// runs over rows the bbox test already narrowed. Falls back to a direct
// probe when the layer's PK isn't numeric or no usable bounds were staged.
func (e *Executor) applyTwoPhase(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, existing, combined string, op model.CombineOperator, bounds geom.Extent, srid int) executor.Outcome {
	if !layer.PKNumeric || !hasExtent(bounds) {
		return e.applyDirect(ctx, handle, layer, combined)
	}

	quotedGeom := sqlsafe.MustQuoteIdent(layer.GeometryColumn)
	quotedPK := sqlsafe.MustQuoteIdent(layer.PKName)
	envelope := fmt.Sprintf("ST_MakeEnvelope(%g,%g,%g,%g,%d)", bounds[0], bounds[1], bounds[2], bounds[3], srid)
	bboxPred := fmt.Sprintf("%s && %s", quotedGeom, envelope)
	phase1Where := executor.CombineSubset(existing, op.Normalize(), bboxPred)

	applyCtx, cancel := context.WithTimeout(ctx, StatementTimeout)
	defer cancel()

	conn, err := e.deps.Pool.Acquire()
	if err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	defer e.deps.Pool.Release(conn)
	conn.Exec(fmt.Sprintf("SET statement_timeout = %d", int(StatementTimeout/time.Millisecond)))

	rows, err := conn.Query(fmt.Sprintf("SELECT %s FROM %s WHERE %s", quotedPK, layer.QualifiedTable(), phase1Where))
	if err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return executor.Outcome{FinalState: executor.StateFailed, Err: err}
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}

	var survivors []int64
	for start := 0; start < len(candidates); start += PhaseTwoChunkSize {
		end := start + PhaseTwoChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		chunkWhere := fmt.Sprintf("%s IN (%s) AND (%s)", quotedPK, sqlsafe.FormatInt64InList(chunk), combined)
		crows, err := conn.Query(fmt.Sprintf("SELECT %s FROM %s WHERE %s", quotedPK, layer.QualifiedTable(), chunkWhere))
		if err != nil {
			return executor.Outcome{FinalState: executor.StateFailed, Err: err}
		}
		for crows.Next() {
			var id int64
			if err := crows.Scan(&id); err != nil {
				crows.Close()
				return executor.Outcome{FinalState: executor.StateFailed, Err: err}
			}
			survivors = append(survivors, id)
		}
		crows.Close()
		if err := crows.Err(); err != nil {
			return executor.Outcome{FinalState: executor.StateFailed, Err: err}
		}
	}

	select {
	case <-applyCtx.Done():
		return executor.Outcome{FinalState: executor.StateRetryViaOGR, ForcedBackend: model.BackendOgr, Err: applyCtx.Err()}
	default:
	}

	subsetExpr := fmt.Sprintf("%s IN (-1)", quotedPK)
	if len(survivors) > 0 {
		subsetExpr = fmt.Sprintf("%s IN (%s)", quotedPK, sqlsafe.FormatInt64InList(survivors))
	}
	if err := e.deps.Host.QueueSubsetStringApply(handle, subsetExpr); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	return executor.Outcome{FinalState: executor.StateDone, AppliedSQL: subsetExpr, RowsAffected: int64(len(survivors))}
}

// applyDirect runs combined as a single flat probe query and, on success,
// queues it as handle's new subset string.
func (e *Executor) applyDirect(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, combined string) executor.Outcome {
	applyCtx, cancel := context.WithTimeout(ctx, StatementTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		conn, err := e.deps.Pool.Acquire()
		if err != nil {
			done <- err
			return
		}
		defer e.deps.Pool.Release(conn)

		timeoutMS := int(StatementTimeout / time.Millisecond)
		conn.Exec(fmt.Sprintf("SET statement_timeout = %d", timeoutMS))

		probe := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", layer.QualifiedTable(), combined)
		_, err = conn.Query(probe)
		done <- err
	}()

	select {
	case <-applyCtx.Done():
		log.WithField("layer", layer.LayerID).Warn("statement timed out, forcing OGR fallback")
		return executor.Outcome{FinalState: executor.StateRetryViaOGR, ForcedBackend: model.BackendOgr, Err: applyCtx.Err()}
	case err := <-done:
		if err != nil {
			return executor.Outcome{FinalState: executor.StateFailed, Err: err}
		}
	}

	if err := e.deps.Host.QueueSubsetStringApply(handle, combined); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}

	return executor.Outcome{FinalState: executor.StateDone, AppliedSQL: combined}
}
