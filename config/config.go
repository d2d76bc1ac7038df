// Package config loads the engine's static configuration: materialized-view
// thresholds, buffer defaults and cache TTLs, via TOML with
// environment-variable substitution. The strategy planner's cascade
// thresholds are not read from the file; PlannerThresholds returns the
// planner's defaults.
package config

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/filtermate/spatialengine/complexity"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/planner"
	"github.com/filtermate/spatialengine/viewmanager"
)

// Config is the engine's full recognized option set, TOML-decodable.
type Config struct {
	MV                MVConfig                `toml:"MV"`
	Buffer            BufferConfig            `toml:"Buffer"`
	PredicateOrdering PredicateOrderingConfig  `toml:"PredicateOrdering"`
	TwoPhase          TwoPhaseConfig          `toml:"TwoPhase"`
	LazyCursor        LazyCursorConfig        `toml:"LazyCursor"`
	ProgressiveFilter ProgressiveFilterConfig `toml:"ProgressiveFilter"`
	Cache             CacheConfig             `toml:"Cache"`
	HistoryDepth      int                     `toml:"history_depth"`
}

// MVConfig bounds when a materialized view/temp table is worth creating,
// per backend, and the size-tiered CLUSTER/bbox-column opt-ins.
type MVConfig struct {
	FeatureThresholdPostgres      int64   `toml:"feature_threshold_postgres"`
	ComplexityThresholdPostgres   float64 `toml:"complexity_threshold_postgres"`
	FeatureThresholdSpatialite    int64   `toml:"feature_threshold_spatialite"`
	ComplexityThresholdSpatialite float64 `toml:"complexity_threshold_spatialite"`
	BboxColumnFeatureThreshold    int64   `toml:"bbox_column_feature_threshold"`
	AsyncClusterMinFeatures       int64   `toml:"async_cluster_min_features"`
	AsyncClusterMaxFeatures       int64   `toml:"async_cluster_max_features"`
}

// BufferConfig holds the source-geometry buffer staging defaults.
type BufferConfig struct {
	SimplifyBeforeBuffer    bool    `toml:"simplify_before_buffer"`
	SimplifyToleranceFactor float64 `toml:"simplify_tolerance_factor"`
	MinTolerance            float64 `toml:"min_tolerance"`
	MaxTolerance             float64 `toml:"max_tolerance"`
	DefaultSegments          int     `toml:"default_segments"`
	EndcapStyle              string  `toml:"endcap_style"`
}

// PredicateOrderingConfig is a placeholder for a future override of the
// fixed predicate cost table; the table itself stays immutable
// (model.CostTable), so this section currently has no fields but keeps a
// stable TOML key for forward compatibility.
type PredicateOrderingConfig struct{}

// TwoPhaseConfig bounds when the two-phase strategy engages.
type TwoPhaseConfig struct {
	MinComplexity float64 `toml:"min_complexity"`
}

// LazyCursorConfig bounds server-side cursor page size.
type LazyCursorConfig struct {
	ChunkSize int64 `toml:"chunk_size"`
}

// ProgressiveFilterConfig bounds progressive IN-list chunking.
type ProgressiveFilterConfig struct {
	MaxIDsPerInClause int64 `toml:"max_ids_per_in_clause"`
}

// CacheConfig configures the statistics cache (Redis) and the per-engine
// staged-geometry memoization cache.
type CacheConfig struct {
	StatsTTLMs               int64  `toml:"stats_ttl_ms"`
	SourceGeometryMaxEntries int    `toml:"source_geometry_max_entries"`
	RedisAddr                string `toml:"redis_addr"`
	RedisPassword            string `toml:"redis_password"`
	RedisDB                  int    `toml:"redis_db"`
}

// Default returns the engine's out-of-the-box configuration.
func Default() Config {
	return Config{
		MV: MVConfig{
			FeatureThresholdPostgres:      100_000,
			ComplexityThresholdPostgres:   5,
			FeatureThresholdSpatialite:    50_000,
			ComplexityThresholdSpatialite: 4,
			BboxColumnFeatureThreshold:    10_000,
			AsyncClusterMinFeatures:       50_000,
			AsyncClusterMaxFeatures:       100_000,
		},
		Buffer: BufferConfig{
			SimplifyBeforeBuffer:    false,
			SimplifyToleranceFactor: 0.1,
			MinTolerance:            0.5,
			MaxTolerance:            10.0,
			DefaultSegments:         5,
			EndcapStyle:             string(model.BufferRound),
		},
		TwoPhase:          TwoPhaseConfig{MinComplexity: 100},
		LazyCursor:        LazyCursorConfig{ChunkSize: 5_000},
		ProgressiveFilter: ProgressiveFilterConfig{MaxIDsPerInClause: 10_000},
		Cache: CacheConfig{
			StatsTTLMs:               300_000,
			SourceGeometryMaxEntries: 10,
		},
		HistoryDepth: model.DefaultHistoryDepth,
	}
}

// envVarRE matches $NAME tokens in a config file: a dollar sign followed
// by a letter or underscore, then any run of letters/digits/underscores.
// Tokens that don't start with a letter/underscore, like "$32.78", are
// left untouched rather than misread as a variable reference.
var envVarRE = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// replaceEnvVars substitutes every $NAME token in r's contents with the
// value of the environment variable NAME (empty string if unset).
func replaceEnvVars(r io.Reader) (io.Reader, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	replaced := envVarRE.ReplaceAllFunc(data, func(tok []byte) []byte {
		name := string(tok[1:])
		return []byte(os.Getenv(name))
	})
	return bytes.NewReader(replaced), nil
}

// Load reads a TOML config file from path, expanding $ENV_VAR references
// before parsing, and returns the decoded Config layered over Default().
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader is Load for an already-open reader, used by tests and by
// callers that source config from something other than a plain file.
func LoadReader(r io.Reader) (Config, error) {
	cfg := Default()
	expanded, err := replaceEnvVars(r)
	if err != nil {
		return Config{}, err
	}
	if _, err := toml.NewDecoder(expanded).Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PlannerThresholds derives the strategy cascade's thresholds from this
// config. The cascade's own size cutoffs aren't currently exposed as
// recognized TOML options (only MV/buffer/cache/two-phase/lazy-cursor/
// progressive knobs are), so this returns the package default; the
// conversion exists as the single seam a future config surface would
// extend through.
func (c Config) PlannerThresholds() planner.Thresholds {
	return planner.DefaultThresholds
}

// ViewmanagerThresholds derives the materialized-view size thresholds.
func (c Config) ViewmanagerThresholds() viewmanager.Thresholds {
	return viewmanager.Thresholds{
		MinFeaturesForMV:    c.MV.FeatureThresholdSpatialite,
		BBoxColumnThreshold: c.MV.BboxColumnFeatureThreshold,
		ClusterSyncMax:      c.MV.AsyncClusterMinFeatures,
		ClusterAsyncMax:      c.MV.AsyncClusterMaxFeatures,
	}
}

// ComplexityWeights returns the scoring weights used to classify filter
// complexity. The engine doesn't currently expose these as
// TOML-overridable (they're a fixed empirical table), so this always
// returns the package default; kept as a method for symmetry with the
// other *Thresholds accessors and so a future override surface has a
// natural home.
func (c Config) ComplexityWeights() interface{} {
	return complexity.Weights
}
