// Package sourceenc implements encoding a staged source geometry for a
// target backend as a literal WKT expression, an EXISTS subquery, or a
// reference into a materialized view / temp table, plus fixed-cost
// predicate reordering.
package sourceenc

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/filtermate/spatialengine/geostage"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/sqlsafe"
)

// Thresholds for choosing between literal WKT, EXISTS, and MV encodings.
const (
	MaxLiteralFeatureCount = 50
	MaxLiteralWKTLength    = 100_000
)

// Encoding is the kind of source-geometry representation chosen.
type Encoding string

const (
	EncodingLiteralWKT Encoding = "literal_wkt"
	EncodingExists     Encoding = "exists_subquery"
	EncodingMVRef      Encoding = "mv_reference"
)

// Input bundles what the encoder needs to know about the staged source
// geometry and the target it will be compared against.
type Input struct {
	StagedWKT          string
	SRID               int
	SourceFeatureCount int
	TargetBackend      model.Backend
	// SourceIsPostgres indicates the source layer itself lives in
	// PostgreSQL, a precondition for the EXISTS encoding.
	SourceIsPostgres bool
	SourceSchema     string
	SourceTable      string
	SourceFilter     string // the source layer's own attribute/subset filter, if any
	TargetGeomColumn string
	Predicate        model.SpatialPredicate
	BufferExpr       string // already-wrapped buffer/transform SQL stack, or ""
	// MVViewName, when non-empty, is the name of an already-materialized
	// source view to reference, decided by the view manager ahead of encoding.
	MVViewName   string
	MVPKColumn   string
}

// Output is the chosen encoding plus the SQL fragment to splice into the
// predicate.
type Output struct {
	Encoding    Encoding
	SourceGeomSQL string // the expression to pass as the "source geometry" argument to a predicate function
	Warning     string
}

// Choose implements the size-based decision between literal WKT, EXISTS,
// and MV-reference encodings, including the boundary cases around the
// literal feature-count and WKT-length thresholds.
func Choose(in Input) Output {
	geomExpr := literalGeomSQL(in)

	fitsLiteral := in.SourceFeatureCount <= MaxLiteralFeatureCount && len(in.StagedWKT) <= MaxLiteralWKTLength

	if in.TargetBackend == model.BackendOgr || in.TargetBackend == model.BackendMemory {
		out := Output{Encoding: EncodingLiteralWKT, SourceGeomSQL: geomExpr}
		if !fitsLiteral {
			out.Warning = fmt.Sprintf(
				"source has %d features / %d WKT bytes, exceeding literal thresholds; OGR executor has no EXISTS/MV fallback and will use WKT anyway",
				in.SourceFeatureCount, len(in.StagedWKT),
			)
		}
		return out
	}

	if fitsLiteral {
		return Output{Encoding: EncodingLiteralWKT, SourceGeomSQL: geomExpr}
	}

	if in.MVViewName != "" {
		return Output{Encoding: EncodingMVRef, SourceGeomSQL: mvRefSQL(in)}
	}

	if in.SourceIsPostgres && in.TargetBackend == model.BackendPostgres {
		sql, warn := existsSubquery(in)
		return Output{Encoding: EncodingExists, SourceGeomSQL: sql, Warning: warn}
	}

	// No MV was prepared and EXISTS isn't available (e.g. cross-backend
	// source): fall back to literal WKT regardless of size, same as the
	// OGR path, and say so.
	return Output{
		Encoding:      EncodingLiteralWKT,
		SourceGeomSQL: geomExpr,
		Warning:       "no EXISTS or MV path available for this source/target pairing; using literal WKT despite exceeding size thresholds",
	}
}

func literalGeomSQL(in Input) string {
	base := fmt.Sprintf("ST_MakeValid(ST_GeomFromText(%s, %d))", sqlsafe.EscapeLiteral(in.StagedWKT), in.SRID)
	if in.BufferExpr != "" {
		return strings.Replace(in.BufferExpr, "__GEOM__", base, 1)
	}
	return base
}

func mvRefSQL(in Input) string {
	pk := in.MVPKColumn
	if pk == "" {
		pk = "pk"
	}
	return fmt.Sprintf(`(SELECT %s FROM %s)`, sqlsafe.MustQuoteIdent(pk), quoteSchemaTable("", in.MVViewName))
}

func quoteSchemaTable(schema, table string) string {
	if schema == "" {
		return sqlsafe.MustQuoteIdent(table)
	}
	return sqlsafe.MustQuoteIdent(schema) + "." + sqlsafe.MustQuoteIdent(table)
}

var (
	qualifiedColRE = regexp.MustCompile(`"([A-Za-z0-9_]+)"\."([A-Za-z0-9_]+)"\."([A-Za-z0-9_]+)"`)
	tableColRE     = regexp.MustCompile(`"([A-Za-z0-9_]+)"\."([A-Za-z0-9_]+)"`)
	existsRE       = regexp.MustCompile(`(?i)EXISTS\s*\(`)
	mvRefRE        = regexp.MustCompile(`(?i)"filtermate_temp"\."fm_temp_`)
)

// existsSubquery builds the EXISTS-subquery encoding.
func existsSubquery(in Input) (string, string) {
	table := quoteSchemaTable(in.SourceSchema, in.SourceTable)
	srcGeom := literalGeomSQL(in)

	pred := fmt.Sprintf(`%s(%s, __source."%s")`, predicateFunction(in.Predicate), in.TargetGeomColumn, "geom")
	_ = srcGeom

	clauses := []string{pred}
	warning := ""
	if in.SourceFilter != "" {
		adapted, ok := AdaptFilterForSubquery(in.SourceFilter, in.SourceSchema, in.SourceTable)
		if ok {
			clauses = append(clauses, adapted)
		} else {
			warning = "source filter could not be safely adapted into the EXISTS subquery and was dropped"
		}
	}

	sql := fmt.Sprintf(
		`EXISTS (SELECT 1 FROM %s AS __source WHERE %s)`,
		table, strings.Join(clauses, " AND "),
	)
	return sql, warning
}

// PredicateSQL renders the spatial predicate function call combining the
// target layer's geometry column with an already-encoded source geometry
// expression, e.g. ST_Intersects("geom", <sourceGeomSQL>).
func PredicateSQL(p model.SpatialPredicate, targetGeomCol, sourceGeomSQL string) string {
	return fmt.Sprintf("%s(%s, %s)", predicateFunction(p), targetGeomCol, sourceGeomSQL)
}

func predicateFunction(p model.SpatialPredicate) string {
	switch p {
	case model.PredicateIntersects:
		return "ST_Intersects"
	case model.PredicateWithin:
		return "ST_Within"
	case model.PredicateContains:
		return "ST_Contains"
	case model.PredicateOverlaps:
		return "ST_Overlaps"
	case model.PredicateTouches:
		return "ST_Touches"
	case model.PredicateCrosses:
		return "ST_Crosses"
	case model.PredicateDisjoint:
		return "ST_Disjoint"
	case model.PredicateEquals:
		return "ST_Equals"
	default:
		return "ST_Intersects"
	}
}

// AdaptFilterForSubquery rewrites a source layer's own filter expression
// for use inside an EXISTS subquery aliased as __source: qualified
// "schema"."table"."col" or "table"."col" references become
// __source."col"; balanced outer parentheses are stripped; the filter is
// rejected (ok=false) if it still references external tables, a nested
// EXISTS, or a materialized view after rewriting.
func AdaptFilterForSubquery(filter, schema, table string) (string, bool) {
	rewritten := qualifiedColRE.ReplaceAllStringFunc(filter, func(m string) string {
		sub := qualifiedColRE.FindStringSubmatch(m)
		if sub[1] == schema && sub[2] == table {
			return `__source."` + sub[3] + `"`
		}
		return m
	})
	rewritten = tableColRE.ReplaceAllStringFunc(rewritten, func(m string) string {
		sub := tableColRE.FindStringSubmatch(m)
		if sub[1] == table {
			return `__source."` + sub[2] + `"`
		}
		return m
	})

	rewritten = stripBalancedOuterParens(rewritten)

	if existsRE.MatchString(rewritten) || mvRefRE.MatchString(rewritten) {
		return "", false
	}
	// Any remaining "schema"."table"."col" or "table"."col" pattern not
	// belonging to __source means an external table reference survived
	// the rewrite; reject to avoid a broken nested query.
	if qualifiedColRE.MatchString(rewritten) {
		return "", false
	}
	for _, m := range tableColRE.FindAllStringSubmatch(rewritten, -1) {
		if m[1] != "__source" {
			return "", false
		}
	}

	if strings.Count(rewritten, "(") != strings.Count(rewritten, ")") {
		return "", false
	}

	return rewritten, true
}

// stripBalancedOuterParens removes one layer of wrapping parentheses when
// the entire trimmed expression is enclosed by a single balanced pair,
// e.g. "(a AND b)" -> "a AND b", but leaves "(a) AND (b)" untouched.
func stripBalancedOuterParens(expr string) string {
	s := strings.TrimSpace(expr)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		depth := 0
		wrapsWhole := true
		for i, r := range s {
			switch r {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 && i != len(s)-1 {
					wrapsWhole = false
				}
			}
		}
		if !wrapsWhole {
			break
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// OrderPredicates sorts spatial predicates by ascending fixed cost, so
// cheaper short-circuits happen first when combined with OR, deduplicating
// while preserving the first occurrence's relative insertion order among
// ties.
func OrderPredicates(predicates []model.SpatialPredicate) []model.SpatialPredicate {
	seen := make(map[model.SpatialPredicate]bool, len(predicates))
	dedup := make([]model.SpatialPredicate, 0, len(predicates))
	for _, p := range predicates {
		if seen[p] {
			continue
		}
		seen[p] = true
		dedup = append(dedup, p)
	}
	sort.SliceStable(dedup, func(i, j int) bool {
		return model.CostTable[dedup[i]] < model.CostTable[dedup[j]]
	})
	return dedup
}

// BufferArgument renders a source geometry expression wrapped with the
// buffer/transform stack geostage staged, when the caller needs the raw
// SQL fragment rather than going through Choose. No executor in this
// module calls it; the postgis two-phase bbox phase uses ST_MakeEnvelope.
func BufferArgument(wkt string, srid int, bufferValue float64, style model.BufferStyle, segments int) string {
	base := fmt.Sprintf("ST_GeomFromText(%s, %d)", sqlsafe.EscapeLiteral(wkt), srid)
	if bufferValue == 0 {
		return fmt.Sprintf("ST_MakeValid(%s)", base)
	}
	buffered := fmt.Sprintf(
		"ST_Buffer(%s, %s, '%s')",
		base, strconv.FormatFloat(bufferValue, 'f', -1, 64), geostage.BufferStyleToken(segments, style),
	)
	if bufferValue < 0 {
		return geostage.NegativeBufferSQLWrap(buffered)
	}
	return fmt.Sprintf("ST_MakeValid(%s)", buffered)
}
