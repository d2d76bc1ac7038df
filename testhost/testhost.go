// Package testhost is a synthetic, in-memory implementation of host.Host:
// it stands in for an embedding desktop-GIS application during engine tests
// and for the cmd/filterctl demo CLI. It performs real (if simplified)
// bounding-box geometry math rather than delegating to a GIS engine, since
// its role is to sit ON the Host side of the port, the same seam a real
// application's GEOS/GDAL bindings would occupy.
package testhost

import (
	"context"
	"fmt"
	"math"

	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/model"
)

// Geometry is testhost's concrete host.Geometry: an axis-aligned bounding
// box plus the WKT it was built from. Predicate evaluation in this
// package is bbox-based, which is sufficient to drive the engine's
// strategy selection and combination logic without pulling in a full
// geometry algorithms library.
type Geometry struct {
	WKT              string
	MinX, MinY       float64
	MaxX, MaxY       float64
	empty            bool
}

// IsEmpty implements host.Geometry.
func (g Geometry) IsEmpty() bool { return g.empty }

// NewBoxGeometry builds a rectangular Geometry, the shape testhost's
// synthetic layers are populated with.
func NewBoxGeometry(minX, minY, maxX, maxY float64) Geometry {
	return Geometry{
		WKT:  fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))", minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY),
		MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
	}
}

// EmptyGeometry returns the canonical empty geometry.
func EmptyGeometry() Geometry { return Geometry{empty: true} }

func (g Geometry) expandBy(d float64) Geometry {
	return NewBoxGeometry(g.MinX-d, g.MinY-d, g.MaxX+d, g.MaxY+d)
}

func (g Geometry) intersects(o Geometry) bool {
	if g.empty || o.empty {
		return false
	}
	return g.MinX <= o.MaxX && g.MaxX >= o.MinX && g.MinY <= o.MaxY && g.MaxY >= o.MinY
}

func (g Geometry) contains(o Geometry) bool {
	if g.empty || o.empty {
		return false
	}
	return g.MinX <= o.MinX && g.MaxX >= o.MaxX && g.MinY <= o.MinY && g.MaxY >= o.MaxY
}

func (g Geometry) touches(o Geometry) bool {
	if !g.intersects(o) {
		return false
	}
	onEdge := g.MaxX == o.MinX || g.MinX == o.MaxX || g.MaxY == o.MinY || g.MinY == o.MaxY
	return onEdge
}

func (g Geometry) equals(o Geometry) bool {
	return g.MinX == o.MinX && g.MinY == o.MinY && g.MaxX == o.MaxX && g.MaxY == o.MaxY
}

// relate evaluates predicate between a and b using bbox semantics.
func relate(a, b Geometry, predicate model.SpatialPredicate) (bool, error) {
	switch predicate {
	case model.PredicateIntersects:
		return a.intersects(b), nil
	case model.PredicateContains:
		return a.contains(b), nil
	case model.PredicateWithin:
		return b.contains(a), nil
	case model.PredicateDisjoint:
		return !a.intersects(b), nil
	case model.PredicateTouches:
		return a.touches(b), nil
	case model.PredicateEquals:
		return a.equals(b), nil
	case model.PredicateOverlaps, model.PredicateCrosses:
		return a.intersects(b) && !a.contains(b) && !b.contains(a), nil
	default:
		return false, fmt.Errorf("testhost: unsupported predicate %q", predicate)
	}
}

// Feature is a synthetic feature record.
type Feature struct {
	FID   int64
	Geom  Geometry
	Attrs map[string]interface{}
}

func (f Feature) ID() int64              { return f.FID }
func (f Feature) Geometry() host.Geometry { return f.Geom }
func (f Feature) Attribute(name string) (interface{}, bool) {
	v, ok := f.Attrs[name]
	return v, ok
}

// Layer is a synthetic layer: its metadata plus its feature set and
// current subset string, mutated as the engine drives filter/unfilter.
type Layer struct {
	Info    model.LayerInfo
	Feats   []Feature
	Subset  string
	hasSub  bool
}

type handle struct{ id string }

func (h handle) ID() string { return h.id }

// Host is testhost's host.Host implementation.
type Host struct {
	layers map[string]*Layer
}

// New builds a Host from the given synthetic layers, keyed by LayerID.
func New(layers ...*Layer) *Host {
	h := &Host{layers: make(map[string]*Layer, len(layers))}
	for _, l := range layers {
		h.layers[l.Info.LayerID] = l
	}
	return h
}

// Layer exposes a synthetic layer for test setup/assertion, or nil.
func (h *Host) Layer(id string) *Layer { return h.layers[id] }

func (h *Host) Layers() (map[string]model.LayerInfo, error) {
	out := make(map[string]model.LayerInfo, len(h.layers))
	for id, l := range h.layers {
		out[id] = l.Info
	}
	return out, nil
}

func (h *Host) LayerByID(id string) (host.LayerHandle, bool) {
	if _, ok := h.layers[id]; !ok {
		return nil, false
	}
	return handle{id: id}, true
}

func (h *Host) IterFeatures(hd host.LayerHandle, req host.FeatureRequest) (host.FeatureIterator, error) {
	l, ok := h.layers[hd.ID()]
	if !ok {
		return nil, fmt.Errorf("testhost: unknown layer %q", hd.ID())
	}
	feats := l.Feats
	if len(req.FIDs) > 0 {
		want := make(map[int64]bool, len(req.FIDs))
		for _, id := range req.FIDs {
			want[id] = true
		}
		filtered := make([]Feature, 0, len(req.FIDs))
		for _, f := range feats {
			if want[f.FID] {
				filtered = append(filtered, f)
			}
		}
		feats = filtered
	}
	return &iterator{feats: feats}, nil
}

type iterator struct {
	feats []Feature
	idx   int
}

func (it *iterator) Next(ctx context.Context) (host.Feature, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	if it.idx >= len(it.feats) {
		return nil, false, nil
	}
	f := it.feats[it.idx]
	it.idx++
	return f, true, nil
}

func (it *iterator) Close() error { return nil }

func (h *Host) SubsetString(hd host.LayerHandle) (string, bool) {
	l, ok := h.layers[hd.ID()]
	if !ok || !l.hasSub {
		return "", false
	}
	return l.Subset, true
}

func (h *Host) QueueSubsetStringApply(hd host.LayerHandle, sql string) error {
	l, ok := h.layers[hd.ID()]
	if !ok {
		return fmt.Errorf("testhost: unknown layer %q", hd.ID())
	}
	l.Subset = sql
	l.hasSub = sql != ""
	return nil
}

func (h *Host) Transform(g host.Geometry, srcCRS, dstCRS string) (host.Geometry, error) {
	if srcCRS == dstCRS {
		return g, nil
	}
	box, ok := g.(Geometry)
	if !ok {
		return g, nil
	}
	return box, nil
}

func (h *Host) Buffer(g host.Geometry, distance float64, segments int, style model.BufferStyle) (host.Geometry, error) {
	box, ok := g.(Geometry)
	if !ok {
		return g, nil
	}
	return box.expandBy(distance), nil
}

func (h *Host) WKT(g host.Geometry) (string, error) {
	box, ok := g.(Geometry)
	if !ok {
		return "", fmt.Errorf("testhost: not a testhost.Geometry")
	}
	return box.WKT, nil
}

func (h *Host) MakeValid(g host.Geometry) (host.Geometry, error) { return g, nil }

func (h *Host) Union(geoms []host.Geometry) (host.Geometry, error) {
	if len(geoms) == 0 {
		return EmptyGeometry(), nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, g := range geoms {
		box, ok := g.(Geometry)
		if !ok || box.empty {
			continue
		}
		minX, minY = math.Min(minX, box.MinX), math.Min(minY, box.MinY)
		maxX, maxY = math.Max(maxX, box.MaxX), math.Max(maxY, box.MaxY)
	}
	if math.IsInf(minX, 1) {
		return EmptyGeometry(), nil
	}
	return NewBoxGeometry(minX, minY, maxX, maxY), nil
}

func (h *Host) Relate(a, b host.Geometry, predicate model.SpatialPredicate) (bool, error) {
	boxA, ok := a.(Geometry)
	if !ok {
		return false, fmt.Errorf("testhost: operand a is not a testhost.Geometry")
	}
	boxB, ok := b.(Geometry)
	if !ok {
		return false, fmt.Errorf("testhost: operand b is not a testhost.Geometry")
	}
	return relate(boxA, boxB, predicate)
}

func (h *Host) DBConnectionFor(info model.LayerInfo) (host.Connection, bool) { return nil, false }
