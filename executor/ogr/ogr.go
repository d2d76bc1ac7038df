// Package ogr is the in-process/OGR backend executor, used for file-backed
// layers (shapefile, GeoPackage-via-OGR) and as the forced fallback when
// a database backend times out. It evaluates the filter by streaming
// features through host.Host rather than pushing SQL to a server: an
// attribute prefilter narrows the candidate set in chunks, a worker pool
// evaluates the spatial predicate over what remains, and the surviving
// feature ids are compacted into FID ranges for the final subset string.
package ogr

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/filtermate/spatialengine/executor"
	"github.com/filtermate/spatialengine/host"
	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
)

// CompactionRangeFraction bounds how many compacted ranges a survivor set
// may produce, relative to its raw FID count, before FIDSubsetExpression
// prefers the range form over a flat IN-list: at most one range per three
// FIDs, i.e. ranges must compact the set to a third of its size or better.
const CompactionRangeFraction = 3

var log = fmlog.For("executor.ogr")

// AttributeChunkSize and SpatialChunkSize bound how many features are
// buffered in memory at once during each evaluation phase.
const (
	AttributeChunkSize = 1000
	SpatialChunkSize   = 5000
)

// SequentialFallbackThreshold is the feature count below which the
// spatial worker pool's setup cost isn't worth it; small datasets are
// evaluated on the calling goroutine instead.
const SequentialFallbackThreshold = SpatialChunkSize

// WorkerCount bounds how many goroutines evaluate spatial predicates
// concurrently.
const WorkerCount = 4

// SpatialPredicateFunc tests whether a feature's geometry satisfies the
// compiled spatial predicate against the staged source geometry.
type SpatialPredicateFunc func(g host.Geometry) (bool, error)

// Executor applies filter plans to file-backed layers by streaming
// features through the host rather than generating backend SQL.
type Executor struct {
	host host.Host
}

// New constructs an Executor.
func New(h host.Host) *Executor {
	return &Executor{host: h}
}

// evaluate runs the two-phase in-process filter and returns the surviving
// feature ids in ascending order.
func (e *Executor) evaluate(ctx context.Context, h host.LayerHandle, attrExpr string, predicate SpatialPredicateFunc) ([]int64, error) {
	var survivors []int64
	var candidateCount int

	req := host.FeatureRequest{Expression: attrExpr}
	it, err := e.host.IterFeatures(h, req)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var candidates []host.Feature
	flushAttr := func() {
		candidateCount += len(candidates)
	}

	for {
		feat, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		candidates = append(candidates, feat)
		if len(candidates) >= AttributeChunkSize {
			flushAttr()
		}
	}
	flushAttr()

	if predicate == nil {
		for _, f := range candidates {
			survivors = append(survivors, f.ID())
		}
		sort.Slice(survivors, func(i, j int) bool { return survivors[i] < survivors[j] })
		return survivors, nil
	}

	if len(candidates) < SequentialFallbackThreshold {
		for _, f := range candidates {
			ok, err := predicate(f.Geometry())
			if err != nil {
				return nil, err
			}
			if ok {
				survivors = append(survivors, f.ID())
			}
		}
		sort.Slice(survivors, func(i, j int) bool { return survivors[i] < survivors[j] })
		return survivors, nil
	}

	survivors, err = e.evaluateSpatialPool(ctx, candidates, predicate)
	if err != nil {
		return nil, err
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i] < survivors[j] })
	return survivors, nil
}

// evaluateSpatialPool dispatches candidates in SpatialChunkSize batches
// across WorkerCount goroutines, each testing the spatial predicate
// independently.
func (e *Executor) evaluateSpatialPool(ctx context.Context, candidates []host.Feature, predicate SpatialPredicateFunc) ([]int64, error) {
	type job struct {
		feats []host.Feature
	}
	jobs := make(chan job)
	results := make(chan []int64, WorkerCount)
	errs := make(chan error, WorkerCount)

	var wg sync.WaitGroup
	for i := 0; i < WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local []int64
			for j := range jobs {
				for _, f := range j.feats {
					select {
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					default:
					}
					ok, err := predicate(f.Geometry())
					if err != nil {
						errs <- err
						return
					}
					if ok {
						local = append(local, f.ID())
					}
				}
			}
			results <- local
		}()
	}

	go func() {
		defer close(jobs)
		for start := 0; start < len(candidates); start += SpatialChunkSize {
			end := start + SpatialChunkSize
			if end > len(candidates) {
				end = len(candidates)
			}
			select {
			case jobs <- job{feats: candidates[start:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)
	close(errs)

	select {
	case err := <-errs:
		if err != nil {
			return nil, err
		}
	default:
	}

	var survivors []int64
	for r := range results {
		survivors = append(survivors, r...)
	}
	return survivors, nil
}

// CompactFIDRanges collapses a sorted slice of ascending feature ids into
// contiguous inclusive ranges, e.g. [1,2,3,7,8,10] -> "1-3,7-8,10", so the
// subset string stays compact for large surviving sets.
func CompactFIDRanges(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	var parts []string
	start := ids[0]
	prev := ids[0]
	flush := func(end int64) {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, id := range ids[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		flush(prev)
		start = id
		prev = id
	}
	flush(prev)
	return strings.Join(parts, ",")
}

// parseRange parses a single CompactFIDRanges segment ("7-12" or "7") back
// into its inclusive bounds.
func parseRange(r string) (lo, hi int64, ok bool) {
	parts := strings.SplitN(r, "-", 2)
	lo, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(parts) == 1 {
		return lo, lo, true
	}
	hi, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// FIDSubsetExpression renders a FID column subset expression over ids. When
// compacting ids into contiguous ranges shrinks the clause count to no more
// than ids/CompactionRangeFraction, it renders as OR'd range comparisons
// instead of a flat IN-list, which stays far more compact for large
// contiguous survivor sets.
func FIDSubsetExpression(fidColumn string, ids []int64) string {
	if len(ids) == 0 {
		return fidColumn + " IN (-1)" // never-true, matches "no features"
	}

	ranges := strings.Split(CompactFIDRanges(ids), ",")
	if len(ranges) <= len(ids)/CompactionRangeFraction {
		var clauses []string
		for _, r := range ranges {
			lo, hi, ok := parseRange(r)
			if !ok {
				continue
			}
			if lo == hi {
				clauses = append(clauses, fmt.Sprintf("%s = %d", fidColumn, lo))
			} else {
				clauses = append(clauses, fmt.Sprintf("(%s >= %d AND %s <= %d)", fidColumn, lo, fidColumn, hi))
			}
		}
		if len(clauses) > 0 {
			return strings.Join(clauses, " OR ")
		}
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("%s IN (%s)", fidColumn, strings.Join(strs, ","))
}

// Apply runs the in-process attribute+spatial evaluation and queues the
// resulting subset string for main-thread application.
func (e *Executor) Apply(ctx context.Context, h host.LayerHandle, layer model.LayerInfo, attrExpr, fidColumn string, predicate SpatialPredicateFunc) executor.Outcome {
	ids, err := e.evaluate(ctx, h, attrExpr, predicate)
	if err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}

	log.WithField("layer", layer.LayerID).WithField("survivors", len(ids)).Debug("in-process evaluation complete")

	expr := FIDSubsetExpression(fidColumn, ids)
	if err := e.host.QueueSubsetStringApply(h, expr); err != nil {
		return executor.Outcome{FinalState: executor.StateFailed, Err: err}
	}
	return executor.Outcome{FinalState: executor.StateDone, AppliedSQL: expr, RowsAffected: int64(len(ids))}
}
