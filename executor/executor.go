// Package executor implements the per-backend state machine that takes a
// model.FilterPlan and applies it to a target layer, plus the
// backend-neutral subset-string classification and combination rules the
// postgis, spatialite, and ogr executors all share.
package executor

import (
	"regexp"
	"strings"

	"github.com/filtermate/spatialengine/model"
)

// State is a step of the shared execution state machine:
// Analyze -> {Direct, TwoPhase, Materialized} -> Apply -> {Done, RetryViaOGR, Failed}.
type State string

const (
	StateAnalyze     State = "analyze"
	StateDirect      State = "direct"
	StateTwoPhase    State = "two_phase"
	StateMaterialized State = "materialized"
	StateApply       State = "apply"
	StateDone        State = "done"
	StateRetryViaOGR State = "retry_via_ogr"
	StateFailed      State = "failed"
)

// SubsetKind classifies what an existing subset string fragment
// represents, so a new filter can compose with it correctly instead of
// clobbering unrelated clauses.
type SubsetKind string

const (
	SubsetGeometric SubsetKind = "geometric"
	SubsetStyle     SubsetKind = "style"
	SubsetAttribute SubsetKind = "attribute"
	SubsetEmpty     SubsetKind = "empty"
)

var (
	geometricMarkers = []string{"ST_Intersects", "ST_Within", "ST_Contains", "ST_Overlaps",
		"ST_Touches", "ST_Crosses", "ST_Disjoint", "ST_Equals", "ST_DWithin", "ST_Buffer"}
	// styleMarkerRE matches the engine's own style-tag comment convention,
	// e.g. "/* fm:style */", used to mark subset fragments that encode a
	// rendering concern rather than a row filter.
	styleMarkerRE = regexp.MustCompile(`(?i)/\*\s*fm:style\s*\*/`)
)

// ContainsSpatialPredicate reports whether sql contains a literal call to
// one of the spatial predicate functions ClassifySubset treats as
// geometric, regardless of where in the expression it appears.
func ContainsSpatialPredicate(sql string) bool {
	for _, marker := range geometricMarkers {
		if strings.Contains(sql, marker) {
			return true
		}
	}
	return false
}

// ClassifySubset inspects an existing subset string and reports which kind
// of fragment it is, so the engine knows how a new filter should compose
// with it.
func ClassifySubset(subset string) SubsetKind {
	trimmed := strings.TrimSpace(subset)
	if trimmed == "" {
		return SubsetEmpty
	}
	if styleMarkerRE.MatchString(trimmed) {
		return SubsetStyle
	}
	for _, marker := range geometricMarkers {
		if strings.Contains(trimmed, marker) {
			return SubsetGeometric
		}
	}
	return SubsetAttribute
}

// CombineSubset composes a newly generated filter expression with an
// existing subset string per op, honoring the kind-specific preservation
// rules:
//   - an empty existing subset is always replaced outright
//   - op == CombineReplace discards the existing subset unconditionally
//   - a style fragment is always preserved and ANDed alongside the new
//     filter regardless of op, since it encodes a rendering concern the
//     new geometric/attribute filter never supersedes
//   - otherwise the two fragments are joined with op's SQL operator
func CombineSubset(existing string, op model.CombineOperator, newExpr string) string {
	op = op.Normalize()
	kind := ClassifySubset(existing)

	if kind == SubsetEmpty || op == model.CombineReplace {
		return newExpr
	}

	if kind == SubsetStyle {
		return "(" + existing + ") AND (" + newExpr + ")"
	}

	switch op {
	case model.CombineAnd:
		return "(" + existing + ") AND (" + newExpr + ")"
	case model.CombineAndNot:
		return "(" + existing + ") AND NOT (" + newExpr + ")"
	case model.CombineOr:
		return "(" + existing + ") OR (" + newExpr + ")"
	default:
		return newExpr
	}
}

// Outcome is the terminal result of running a plan through a backend
// executor's state machine.
type Outcome struct {
	FinalState    State
	AppliedSQL    string
	RowsAffected  int64
	ForcedBackend model.Backend // set only when FinalState == StateRetryViaOGR
	Err           error
}
