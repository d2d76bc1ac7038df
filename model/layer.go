package model

import "github.com/go-spatial/geom"

// LayerInfo is an immutable descriptor for a layer known to the Host.
// For postgres/spatialite providers, Table and GeometryColumn must be
// set, and a PKName of "ctid" forbids the materialized-view path (a
// PostgreSQL system column, not a stable identity across VACUUM).
type LayerInfo struct {
	LayerID         string
	Name            string
	Provider        Backend
	Schema          string
	Table           string
	GeometryColumn  string
	PKName          string
	PKNumeric       bool
	CRSAuthID       string
	FeatureCount    int64
	Extent          geom.Extent
	GeometryType    string
	HasSpatialIndex bool
}

// IsCTIDPrimaryKey reports whether the layer identifies features by
// PostgreSQL's synthetic ctid column, which disables the MV path.
func (l LayerInfo) IsCTIDPrimaryKey() bool {
	return l.Provider == BackendPostgres && l.PKName == "ctid"
}

// RequiresTableAndGeometry reports whether this provider's invariant
// requires Table/GeometryColumn to be populated.
func (l LayerInfo) RequiresTableAndGeometry() bool {
	return l.Provider == BackendPostgres || l.Provider == BackendSpatiaLite
}

// Validate checks the LayerInfo invariants.
func (l LayerInfo) Validate() error {
	if !l.Provider.Valid() {
		return ErrUnsupportedLayer{Provider: string(l.Provider)}
	}
	if l.RequiresTableAndGeometry() {
		if l.Table == "" || l.GeometryColumn == "" {
			return ErrUnsupportedLayer{
				Provider: string(l.Provider),
				Reason:   "table and geometry_column are required",
			}
		}
	}
	return nil
}

// QualifiedTable returns the schema-qualified table reference, quoted.
func (l LayerInfo) QualifiedTable() string {
	if l.Schema == "" {
		return `"` + l.Table + `"`
	}
	return `"` + l.Schema + `"."` + l.Table + `"`
}
