package orchestrator

import (
	"fmt"

	"github.com/filtermate/spatialengine/geostage"
)

// geometryCacheKey identifies a staged source geometry by the inputs that
// determine its value: which source features fed it, how far it was
// buffered, and what CRS it was staged into for the current target layer.
type geometryCacheKey struct {
	sourceFIDs  string
	bufferValue float64
	targetCRS   string
}

func newGeometryCacheKey(sourceFIDs []int64, bufferValue float64, targetCRS string) geometryCacheKey {
	return geometryCacheKey{sourceFIDs: fmt.Sprint(sourceFIDs), bufferValue: bufferValue, targetCRS: targetCRS}
}

// geometryCache memoizes staged source geometry across target layers in a
// single filter run, bounded to a fixed number of entries on a FIFO
// eviction policy: once full, the oldest entry is dropped regardless of
// how recently it was read.
type geometryCache struct {
	maxEntries int
	order      []geometryCacheKey
	entries    map[geometryCacheKey]geostage.Result
}

func newGeometryCache(maxEntries int) *geometryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultGeometryCacheEntries
	}
	return &geometryCache{
		maxEntries: maxEntries,
		entries:    make(map[geometryCacheKey]geostage.Result),
	}
}

func (c *geometryCache) get(key geometryCacheKey) (geostage.Result, bool) {
	r, ok := c.entries[key]
	return r, ok
}

func (c *geometryCache) put(key geometryCacheKey, result geostage.Result) {
	if _, exists := c.entries[key]; exists {
		c.entries[key] = result
		return
	}
	if len(c.order) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, key)
	c.entries[key] = result
}
