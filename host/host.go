// Package host defines the ports the adaptive spatial filter engine expects
// an embedding desktop-GIS application to provide. It is the single seam
// between the engine (this module) and everything this engine declares out of
// scope: layer/project loading, feature geometry I/O, and UI. The shapes
// here follow a Layerer/Tiler-style provider split generalized from
// "serve map tiles" to "iterate and subset-filter layers".
package host

import (
	"context"

	"github.com/filtermate/spatialengine/model"
)

// LayerHandle is an opaque reference to a layer, scoped to a single task.
// No engine component may retain a LayerHandle across task boundaries.
type LayerHandle interface {
	// ID returns the host-assigned layer id this handle refers to.
	ID() string
}

// FeatureRequest narrows which features Host.IterFeatures should yield.
type FeatureRequest struct {
	// FIDs restricts iteration to the given feature ids; empty means all.
	FIDs []int64
	// Expression is an attribute filter expression evaluated by the Host.
	Expression string
}

// Feature is a single feature streamed from the Host.
type Feature interface {
	ID() int64
	Geometry() Geometry
	Attribute(name string) (interface{}, bool)
}

// Geometry is an opaque handle to a Host-owned geometry. The engine never
// implements geometry algorithms itself; it always asks the Host to
// transform, buffer, union, or encode one.
type Geometry interface {
	// IsEmpty reports whether the underlying geometry is empty.
	IsEmpty() bool
}

// FeatureIterator streams features from a Host query.
type FeatureIterator interface {
	Next(ctx context.Context) (Feature, bool, error)
	Close() error
}

// Connection is an opaque database handle for the layer's backend, e.g. a
// pooled *pgx.ConnPool or *sql.DB wrapped for engine use.
type Connection interface {
	// Backend reports which wire protocol this connection speaks.
	Backend() model.Backend
}

// Host is the full set of collaborators the engine requires. An embedding
// application implements this once; the engine never reaches outside it
// for layer state, geometry operations, or SQL execution targets.
type Host interface {
	// Layers returns metadata about every layer known to the host,
	// keyed by layer id.
	Layers() (map[string]model.LayerInfo, error)

	// LayerByID resolves an opaque handle for the given layer id.
	LayerByID(id string) (LayerHandle, bool)

	// IterFeatures streams features from a layer matching req.
	IterFeatures(handle LayerHandle, req FeatureRequest) (FeatureIterator, error)

	// SubsetString returns the layer's current subset string, if any.
	SubsetString(handle LayerHandle) (string, bool)

	// QueueSubsetStringApply marshals application of sql as the new
	// subset string for handle onto the host's main thread. The engine
	// never mutates a layer directly.
	QueueSubsetStringApply(handle LayerHandle, sql string) error

	// Transform reprojects geom from srcCRS to dstCRS.
	Transform(geom Geometry, srcCRS, dstCRS string) (Geometry, error)

	// Buffer produces an expanded/eroded copy of geom.
	Buffer(geom Geometry, distance float64, segments int, style model.BufferStyle) (Geometry, error)

	// WKT renders geom as Well-Known Text.
	WKT(geom Geometry) (string, error)

	// MakeValid repairs an invalid geometry.
	MakeValid(geom Geometry) (Geometry, error)

	// Union dissolves a collection of geometries into one.
	Union(geoms []Geometry) (Geometry, error)

	// Relate tests whether a and b satisfy the given spatial predicate.
	// In-process executors (no SQL engine to push the test to) use this
	// to evaluate the spatial phase of a filter feature by feature.
	Relate(a, b Geometry, predicate model.SpatialPredicate) (bool, error)

	// DBConnectionFor returns a database connection for the layer's
	// backend, or ok=false if none is available (e.g. an OGR/file layer).
	DBConnectionFor(info model.LayerInfo) (conn Connection, ok bool)
}
