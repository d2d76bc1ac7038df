// Package optimizer implements static SQL rewrite suggestions, index
// recommendations, and EXPLAIN-driven row/cost estimation for a candidate
// predicate before the planner commits to a strategy.
package optimizer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx"

	"github.com/filtermate/spatialengine/internal/fmlog"
)

var log = fmlog.For("optimizer")

// Rewrite is one suggested textual transformation of the input SQL.
type Rewrite struct {
	Description string
	Before      string
	After       string
}

// QueryAnalysis is the static analysis result for a predicate fragment.
type QueryAnalysis struct {
	Rewrites        []Rewrite
	Warnings        []string
	SuggestedIndexes []string
}

var (
	reDistanceCompare = regexp.MustCompile(`(?i)ST_Distance\(([^,]+),\s*([^)]+)\)\s*([<]=?)\s*([0-9]+(?:\.[0-9]+)?)`)
	reNotEqualNull    = regexp.MustCompile(`(?i)(\S+)\s*(!=|<>)\s*NULL\b`)
	reEqualNull       = regexp.MustCompile(`(?i)([^\s!<>]+)\s*=\s*NULL\b`)
	reLeadingWildcard = regexp.MustCompile(`(?i)LIKE\s+'%`)
	reInList          = regexp.MustCompile(`(?i)\bIN\s*\(([^)]*)\)`)
	reColumnRef       = regexp.MustCompile(`"?(\w+)"?\."?(\w+)"?`)
)

// Analyze runs the fixed rewrite/warning rules over sql and suggests
// indexes on the column references it finds.
func Analyze(sql string) QueryAnalysis {
	var a QueryAnalysis

	if m := reDistanceCompare.FindStringSubmatch(sql); m != nil {
		rewritten := fmt.Sprintf("ST_DWithin(%s, %s, %s)", strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), m[4])
		a.Rewrites = append(a.Rewrites, Rewrite{
			Description: "ST_Distance(...) < k can use a spatial index via ST_DWithin, ST_Distance cannot",
			Before:      m[0],
			After:       rewritten,
		})
	}

	if reNotEqualNull.MatchString(sql) {
		rewritten := reNotEqualNull.ReplaceAllString(sql, "$1 IS NOT NULL")
		a.Rewrites = append(a.Rewrites, Rewrite{
			Description: "!= NULL and <> NULL never match in SQL's three-valued logic; use IS NOT NULL",
			Before:      sql,
			After:       rewritten,
		})
	}
	if reEqualNull.MatchString(sql) {
		rewritten := reEqualNull.ReplaceAllString(sql, "$1 IS NULL")
		a.Rewrites = append(a.Rewrites, Rewrite{
			Description: "= NULL never matches in SQL's three-valued logic; use IS NULL",
			Before:      sql,
			After:       rewritten,
		})
	}

	if reLeadingWildcard.MatchString(sql) {
		a.Warnings = append(a.Warnings, "LIKE pattern with a leading wildcard cannot use a B-tree index")
	}

	for _, m := range reInList.FindAllStringSubmatch(sql, -1) {
		n := strings.Count(m[1], ",") + 1
		if n > 100 {
			a.Warnings = append(a.Warnings, fmt.Sprintf("IN() list has %d literals; consider a temp table join instead", n))
		}
	}

	a.SuggestedIndexes = suggestIndexes(sql)
	return a
}

func suggestIndexes(sql string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range reColumnRef.FindAllStringSubmatch(sql, -1) {
		key := m[1] + "." + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fmt.Sprintf(`CREATE INDEX ON %s (%s)`, m[1], m[2]))
	}
	return out
}

// explainNode mirrors the subset of PostgreSQL's EXPLAIN (FORMAT JSON)
// plan node shape the estimator reads.
type explainNode struct {
	Plan struct {
		TotalCost  float64 `json:"Total Cost"`
		PlanRows   float64 `json:"Plan Rows"`
	} `json:"Plan"`
}

// EstimateRowCountAndCost runs EXPLAIN (FORMAT JSON) (never ANALYZE, so
// the probe has no side effects and doesn't execute the query) against
// pool and returns the planner's row and cost estimates. On any failure it
// returns (0, 0) rather than an error, since an estimate is advisory input
// to strategy selection, not a precondition for correctness.
func EstimateRowCountAndCost(pool *pgx.ConnPool, sql string) (rows int64, cost float64) {
	explainSQL := fmt.Sprintf("EXPLAIN (FORMAT JSON, ANALYZE false) %s", sql)

	row := pool.QueryRow(explainSQL)
	var raw string
	if err := row.Scan(&raw); err != nil {
		log.WithError(err).Debug("EXPLAIN probe failed, falling back to (0, 0)")
		return 0, 0
	}

	var nodes []explainNode
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil || len(nodes) == 0 {
		log.WithError(err).Debug("EXPLAIN JSON parse failed, falling back to (0, 0)")
		return 0, 0
	}

	return int64(nodes[0].Plan.PlanRows), nodes[0].Plan.TotalCost
}
