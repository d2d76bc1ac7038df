// Package spatialite is the SpatiaLite backend executor: it prefilters
// candidates through the R-tree spatial index before evaluating the exact
// predicate, retrying with backoff on SQLITE_BUSY.
package spatialite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-spatial/geom"

	"github.com/filtermate/spatialengine/executor"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
)

var log = fmlog.For("executor.spatialite")

// BusyTimeout is the SQLite busy_timeout pragma value, giving a
// concurrently-writing desktop process time to finish before this
// executor gives up.
const BusyTimeout = 30 * time.Second

// MaxRetries and RetryBackoff bound the executor's own retry loop on top
// of SQLite's busy_timeout, for contention that outlasts the pragma.
const (
	MaxRetries   = 3
	RetryBackoff = 200 * time.Millisecond
)

// Executor applies filter plans to SpatiaLite-backed layers.
type Executor struct {
	db   *sql.DB
	host host.Host
}

// New constructs an Executor over an already-opened SpatiaLite *sql.DB.
func New(db *sql.DB, h host.Host) *Executor {
	return &Executor{db: db, host: h}
}

// RTreePrefilter builds the R-tree bounding-box prefilter, a pk IN
// subquery comparing the xmin/xmax/ymin/ymax columns of the virtual table
// SpatiaLite exposes as "<table>_rtree_<geomcol>".
func RTreePrefilter(table, geomCol, pk string, minX, minY, maxX, maxY float64) string {
	rtree := fmt.Sprintf("%s_rtree_%s", table, geomCol)
	return fmt.Sprintf(
		`%s IN (SELECT pkid FROM %s WHERE xmin <= %g AND xmax >= %g AND ymin <= %g AND ymax >= %g)`,
		pk, rtree, maxX, minX, maxY, minY,
	)
}

// CombinedPredicate joins the R-tree bbox prefilter with the exact
// predicate SQL, so the cheap index check short-circuits before the
// expensive exact geometry test runs.
func CombinedPredicate(bboxExpr, exactExpr string) string {
	return fmt.Sprintf("(%s) AND (%s)", bboxExpr, exactExpr)
}

func hasExtent(ext geom.Extent) bool {
	return ext[2] > ext[0] && ext[3] > ext[1]
}

// Apply runs plan's SQL against handle with busy-timeout retry. When
// bounds is a usable extent, the exact predicate is prefixed with the
// cheap R-tree bounding-box prefilter so SQLite's spatial index narrows
// candidates before the exact geometry test ever runs.
func (e *Executor) Apply(ctx context.Context, handle host.LayerHandle, layer model.LayerInfo, sql string, op model.CombineOperator, bounds geom.Extent) executor.Outcome {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", int(BusyTimeout/time.Millisecond))); err != nil {
		log.WithError(err).Debug("setting busy_timeout failed")
	}

	existing, _ := e.host.SubsetString(handle)
	combined := executor.CombineSubset(existing, op.Normalize(), sql)

	where := combined
	if hasExtent(bounds) {
		bbox := RTreePrefilter(layer.Table, layer.GeometryColumn, layer.PKName, bounds[0], bounds[1], bounds[2], bounds[3])
		where = CombinedPredicate(bbox, combined)
	}

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		probe := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", layer.QualifiedTable(), where)
		rows, err := e.db.QueryContext(ctx, probe)
		if err == nil {
			rows.Close()
			lastErr = nil
			break
		}
		lastErr = err
		log.WithField("attempt", attempt+1).WithError(err).Debug("query failed, retrying")
		select {
		case <-time.After(RetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return executor.Outcome{FinalState: executor.StateFailed, Err: ctx.Err()}
		}
	}
	if lastErr != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: lastErr}
	}

	if err := e.host.QueueSubsetStringApply(handle, where); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	return executor.Outcome{FinalState: executor.StateDone, AppliedSQL: where}
}
