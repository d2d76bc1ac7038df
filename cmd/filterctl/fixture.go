package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/testhost"
)

// fixtureFeature is one synthetic feature in a fixture file: Bbox is
// [minX, minY, maxX, maxY].
type fixtureFeature struct {
	FID   int64                  `json:"fid"`
	Bbox  [4]float64             `json:"bbox"`
	Attrs map[string]interface{} `json:"attrs"`
}

type fixtureLayer struct {
	ID             string           `json:"id"`
	Provider       string           `json:"provider"`
	PKName         string           `json:"pk"`
	GeometryColumn string           `json:"geometry_column"`
	CRSAuthID      string           `json:"crs"`
	Schema         string           `json:"schema"`
	Table          string           `json:"table"`
	Features       []fixtureFeature `json:"features"`
}

type fixtureFile struct {
	Layers []fixtureLayer `json:"layers"`
}

// loadFixture reads a JSON fixture describing synthetic layers and
// features and builds a testhost.Host from it, standing in for the
// desktop-GIS application a real deployment would embed the engine in.
func loadFixture(path string) (*testhost.Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var ff fixtureFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}

	layers := make([]*testhost.Layer, 0, len(ff.Layers))
	for _, fl := range ff.Layers {
		pk := fl.PKName
		if pk == "" {
			pk = "fid"
		}
		geomCol := fl.GeometryColumn
		if geomCol == "" {
			geomCol = "geom"
		}
		provider := model.Backend(fl.Provider)
		if !provider.Valid() {
			provider = model.BackendOgr
		}

		feats := make([]testhost.Feature, 0, len(fl.Features))
		for _, f := range fl.Features {
			feats = append(feats, testhost.Feature{
				FID:   f.FID,
				Geom:  testhost.NewBoxGeometry(f.Bbox[0], f.Bbox[1], f.Bbox[2], f.Bbox[3]),
				Attrs: f.Attrs,
			})
		}

		layers = append(layers, &testhost.Layer{
			Info: model.LayerInfo{
				LayerID:        fl.ID,
				Name:           fl.ID,
				Provider:       provider,
				Schema:         fl.Schema,
				Table:          fl.Table,
				GeometryColumn: geomCol,
				PKName:         pk,
				CRSAuthID:      fl.CRSAuthID,
				FeatureCount:   int64(len(fl.Features)),
			},
			Feats: feats,
		})
	}

	return testhost.New(layers...), nil
}
