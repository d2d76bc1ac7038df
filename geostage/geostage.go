// Package geostage implements CRS decision, dissolve, and buffer staging
// of the source geometry before it is encoded for a target backend.
// Geometry algorithms themselves stay delegated to the host.Host port;
// this package only orchestrates the deterministic sequence of host calls
// and assembles the resulting WKT + bounding box.
package geostage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"

	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
)

var log = fmlog.For("geostage")

// WebMercatorCRS is the detour CRS used for buffering geographic sources
// in meters.
const WebMercatorCRS = "EPSG:3857"

// Request bundles the inputs to Stage.
type Request struct {
	SourceGeometries []host.Geometry
	SourceCRS        string
	// MapUnits is non-empty when SourceCRS uses non-metric units and is
	// not geographic; BestMetricCRS is then consulted.
	MapUnits      string
	BestMetricCRS func() (string, error)
	BufferValue   float64
	HasBuffer     bool
	BufferStyle   model.BufferStyle
	// TargetCRS is the CRS the staged geometry must end up in (the
	// target layer's CRS), used to transform back after a detour.
	TargetCRS string
}

// Result is the staged geometry plus its accurate bounding box, ready for
// source encoding.
type Result struct {
	Geometry host.Geometry
	CRS      string
	WKT      string
	Bounds   geom.Extent
}

// isGeographic reports whether authID is an EPSG code in the geographic
// range: prefix "EPSG:4" with numeric code < 5000.
func isGeographic(authID string) bool {
	const prefix = "EPSG:4"
	if !strings.HasPrefix(authID, prefix) {
		return false
	}
	var code int
	if _, err := fmt.Sscanf(authID, "EPSG:%d", &code); err != nil {
		return false
	}
	return code < 5000
}

// chooseStagingCRS decides whether the source geometry needs a metric
// detour CRS before buffering: a geographic source with a nonzero buffer
// always detours through WebMercatorCRS, a non-metric projected source
// detours through BestMetricCRS, and anything already metric stays put.
func chooseStagingCRS(req Request) (stagingCRS string, detoured bool, err error) {
	if isGeographic(req.SourceCRS) && req.HasBuffer && req.BufferValue != 0 {
		return WebMercatorCRS, true, nil
	}
	if req.MapUnits != "" && req.MapUnits != "metre" && req.MapUnits != "meter" {
		if req.BestMetricCRS == nil {
			return req.SourceCRS, false, nil
		}
		crs, err := req.BestMetricCRS()
		if err != nil {
			return "", false, err
		}
		return crs, false, nil
	}
	return req.SourceCRS, false, nil
}

// Stage runs the deterministic CRS-detour, dissolve, and buffer sequence
// against h, returning the staged geometry's WKT and bounds.
func Stage(h host.Host, req Request) (Result, error) {
	stagingCRS, detoured, err := chooseStagingCRS(req)
	if err != nil {
		return Result{}, err
	}

	geoms := req.SourceGeometries
	if stagingCRS != req.SourceCRS {
		reprojected := make([]host.Geometry, len(geoms))
		for i, g := range geoms {
			rg, err := h.Transform(g, req.SourceCRS, stagingCRS)
			if err != nil {
				return Result{}, err
			}
			reprojected[i] = rg
		}
		geoms = reprojected
	}

	dissolved, err := h.Union(geoms)
	if err != nil {
		return Result{}, err
	}

	staged := dissolved
	if req.HasBuffer && req.BufferValue != 0 {
		buffered, err := h.Buffer(dissolved, req.BufferValue, defaultSegments, req.BufferStyle)
		if err != nil {
			return Result{}, err
		}
		staged, err = wrapNegativeBuffer(h, buffered, req.BufferValue)
		if err != nil {
			return Result{}, err
		}
	}

	finalCRS := stagingCRS
	if detoured {
		target := req.TargetCRS
		if target == "" {
			target = req.SourceCRS
		}
		staged, err = h.Transform(staged, stagingCRS, target)
		if err != nil {
			return Result{}, err
		}
		finalCRS = target
	}

	if staged == nil || staged.IsEmpty() {
		if req.HasBuffer && req.BufferValue < 0 {
			// Negative buffers legitimately erode small inputs to
			// nothing; that's not a staging failure, it's an empty
			// predicate result, handled by the NULL wrap below.
		} else {
			return Result{}, model.ErrGeometryStagingFailed{Reason: "union or buffer produced an empty geometry"}
		}
	}

	wkt, err := h.WKT(staged)
	if err != nil {
		return Result{}, err
	}

	log.WithField("detoured", detoured).Debug("staged source geometry")

	return Result{
		Geometry: staged,
		CRS:      finalCRS,
		WKT:      wkt,
		Bounds:   extentFromWKT(wkt),
	}, nil
}

const defaultSegments = 5

// wrapNegativeBuffer applies the NULL-wrapping rule: a negative buffer
// may erode a geometry to POLYGON EMPTY, which must never be treated as
// present for spatial predicate purposes. Since the actual
// geometry algebra lives in the Host, this only runs the Host's MakeValid
// and does not test for emptiness; the SQL-level CASE WHEN wrap is
// rendered by NegativeBufferSQLWrap, which sourceenc.BufferArgument calls.
func wrapNegativeBuffer(h host.Host, g host.Geometry, bufferValue float64) (host.Geometry, error) {
	valid, err := h.MakeValid(g)
	if err != nil {
		return nil, err
	}
	return valid, nil
}

// NegativeBufferSQLWrap renders the backend-neutral CASE WHEN wrapper:
// CASE WHEN ST_IsEmpty(ST_MakeValid(<buf>)) THEN NULL ELSE
// ST_MakeValid(<buf>) END.
func NegativeBufferSQLWrap(bufferedExpr string) string {
	return fmt.Sprintf(
		"CASE WHEN ST_IsEmpty(ST_MakeValid(%s)) THEN NULL ELSE ST_MakeValid(%s) END",
		bufferedExpr, bufferedExpr,
	)
}

// BufferStyleToken renders the quad_segs/endcap style token carried into
// backend SQL, e.g. "quad_segs=5 endcap=round".
func BufferStyleToken(segments int, style model.BufferStyle) string {
	if segments <= 0 {
		segments = defaultSegments
	}
	if style == "" {
		style = model.BufferRound
	}
	return fmt.Sprintf("quad_segs=%d endcap=%s", segments, style)
}

var wktNumberRE = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// extentFromWKT is a best-effort bbox extraction used when the Host
// cannot supply one directly; it scans wkt for coordinate pairs and
// tracks their min/max without parsing geometry types or rings, which
// stays correct for bbox purposes regardless of WKT structure. Executors
// still prefer bounds from LayerStatistics or a prior host-side
// ST_Extent call when one is available; this is the fallback for when
// neither exists. Fewer than two numbers (degenerate or unparsable WKT)
// yields a zero extent, which two-phase planning treats as "bounds
// unavailable" and skips the two-phase path accordingly.
func extentFromWKT(wkt string) geom.Extent {
	matches := wktNumberRE.FindAllString(wkt, -1)
	if len(matches) < 2 {
		return geom.Extent{}
	}

	var minX, minY, maxX, maxY float64
	have := false
	for i := 0; i+1 < len(matches); i += 2 {
		x, err := strconv.ParseFloat(matches[i], 64)
		if err != nil {
			continue
		}
		y, err := strconv.ParseFloat(matches[i+1], 64)
		if err != nil {
			continue
		}
		if !have {
			minX, maxX, minY, maxY = x, x, y, y
			have = true
			continue
		}
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	if !have {
		return geom.Extent{}
	}
	return geom.Extent{minX, minY, maxX, maxY}
}
