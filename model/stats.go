package model

import "github.com/go-spatial/geom"

// LayerStatistics is cached per layer_id with a 5-minute TTL.
type LayerStatistics struct {
	FeatureCount         int64
	ExtentArea            float64
	ExtentBounds          geom.Extent
	HasSpatialIndex       bool
	GeometryType          string
	AvgVerticesPerFeature float64
	EstimatedComplexity   int
}

// ViewInfo describes a managed cached result set (MV or temp table).
type ViewInfo struct {
	Name            string
	Kind            string // "materialized_view" | "temp_table"
	Schema          string
	CreatedAt       int64
	LastRefresh     int64
	HasLastRefresh  bool
	RowCount        int64
	SizeBytes       int64
	IsPopulated     bool
	Definition      string
	SessionID       string
	GeometryColumn  string
	SRID            int
	HasSpatialIndex bool
}

// FullName returns the schema-qualified, quoted name.
func (v ViewInfo) FullName() string {
	if v.Schema == "" {
		return `"` + v.Name + `"`
	}
	return `"` + v.Schema + `"."` + v.Name + `"`
}
