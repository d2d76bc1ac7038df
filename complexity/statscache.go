package complexity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
)

var statsLog = fmlog.For("complexity.statscache")

// StatsTTL is the default freshness window for a cached LayerStatistics
// entry before the planner must re-query the backend.
const StatsTTL = 5 * time.Minute

// StatsCache memoizes model.LayerStatistics per layer so repeated planning
// passes within a session don't re-run COUNT/EXPLAIN probes against the
// backend on every filter step.
type StatsCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewStatsCache dials addr (host:port) against database db. A positive ttl
// overrides StatsTTL.
func NewStatsCache(addr, password string, db int, ttl time.Duration) (*StatsCache, error) {
	if ttl <= 0 {
		ttl = StatsTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("statscache: connecting to redis at %s: %w", addr, err)
	}
	return &StatsCache{client: client, keyPrefix: "fm:stats:", ttl: ttl}, nil
}

func (c *StatsCache) key(layerID string) string {
	return c.keyPrefix + layerID
}

// Get returns the cached statistics for layerID, or ok=false on a miss or
// expired entry.
func (c *StatsCache) Get(layerID string) (model.LayerStatistics, bool) {
	raw, err := c.client.Get(c.key(layerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			statsLog.WithField("layer", layerID).WithError(err).Warn("stats cache get failed")
		}
		return model.LayerStatistics{}, false
	}
	var stats model.LayerStatistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		statsLog.WithField("layer", layerID).WithError(err).Warn("stats cache entry corrupt")
		return model.LayerStatistics{}, false
	}
	return stats, true
}

// Set stores stats for layerID with the cache's configured TTL.
func (c *StatsCache) Set(layerID string, stats model.LayerStatistics) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(c.key(layerID), raw, c.ttl).Err()
}

// Invalidate evicts layerID's cached statistics, used after a filter
// applies and the backend's row counts for that layer are now stale.
func (c *StatsCache) Invalidate(layerID string) error {
	return c.client.Del(c.key(layerID)).Err()
}

// Close releases the underlying Redis connection.
func (c *StatsCache) Close() error {
	return c.client.Close()
}
