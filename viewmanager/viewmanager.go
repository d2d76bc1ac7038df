// Package viewmanager implements the lifecycle of materialized views and
// temp tables the engine stages to avoid re-evaluating expensive
// predicates, across the postgresmv and spatialitemv backend variants.
package viewmanager

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/filtermate/spatialengine/model"
)

// Kind distinguishes what a managed view caches.
type Kind string

const (
	KindSourceGeometry Kind = "srcgeom"
	KindFilterResult   Kind = "filtered"
	KindTwoPhaseStage  Kind = "stage"
)

// Thresholds bundle the size cutoffs that decide whether a materialized
// view is worth creating at all, and which index/cluster tier applies.
type Thresholds struct {
	MinFeaturesForMV    int64
	BBoxColumnThreshold  int64
	ClusterSyncMax       int64
	ClusterAsyncMax      int64
}

// DefaultThresholds is a fixed threshold set for callers that do not load a
// config.Config. It differs from config.Default().ViewmanagerThresholds(),
// which sets MinFeaturesForMV to 50_000 and ClusterAsyncMax to 100_000.
var DefaultThresholds = Thresholds{
	MinFeaturesForMV:   1000,
	BBoxColumnThreshold: 10_000,
	ClusterSyncMax:      50_000,
	ClusterAsyncMax:     500_000,
}

// ClusterTier classifies how CLUSTER should run for a given row count.
type ClusterTier string

const (
	ClusterSync  ClusterTier = "sync"
	ClusterAsync ClusterTier = "async"
	ClusterSkip  ClusterTier = "skip"
)

// ChooseClusterTier implements the size-tiered CLUSTER policy: small
// results cluster inline, medium results cluster on a detached connection,
// and very large results skip clustering entirely.
func (t Thresholds) ChooseClusterTier(rowCount int64) ClusterTier {
	switch {
	case rowCount <= t.ClusterSyncMax:
		return ClusterSync
	case rowCount <= t.ClusterAsyncMax:
		return ClusterAsync
	default:
		return ClusterSkip
	}
}

// Name computes the deterministic session-scoped view name
// fm_temp_<kind>_<session[:6]>_<md5(query)[:12]>.
func Name(kind Kind, sessionID, query string) string {
	sum := md5.Sum([]byte(query))
	hash := hex.EncodeToString(sum[:])[:12]
	sess := sessionID
	if len(sess) > 6 {
		sess = sess[:6]
	}
	return fmt.Sprintf("fm_temp_%s_%s_%s", kind, sess, hash)
}

// Request describes a view a caller wants materialized.
type Request struct {
	Kind         Kind
	SessionID    string
	Query        string // the SELECT whose result should be cached
	Schema       string
	PKColumn     string
	PKIsNumeric  bool
	GeomColumn   string
	SRID         int
	EstimatedRows int64
}

// Port is the per-backend materialized-view/temp-table lifecycle manager.
// postgresmv and spatialitemv each implement it against their own SQL
// dialect and session/connection types.
type Port interface {
	// Create materializes req's query under its deterministic name,
	// builds the appropriate spatial/PK indexes, and returns the
	// resulting ViewInfo. If an equivalent view already exists for this
	// session+query hash, Create returns it without re-running the query
	// (a cache hit) and sets ViewInfo.IsPopulated accordingly.
	Create(req Request) (model.ViewInfo, bool /*cacheHit*/, error)

	// Refresh re-populates an existing view, using REFRESH MATERIALIZED
	// VIEW where the backend supports it and drop+recreate otherwise.
	Refresh(view model.ViewInfo, query string) error

	// Cleanup drops every view this manager created for sessionID,
	// swallowing per-entry errors so one stuck view doesn't block
	// cleanup of the rest, and returns how many were dropped.
	Cleanup(sessionID string) (int, error)

	// Views lists the views currently tracked for sessionID.
	Views(sessionID string) []model.ViewInfo
}
