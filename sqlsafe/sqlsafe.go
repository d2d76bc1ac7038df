// Package sqlsafe implements identifier quoting, literal escaping, and
// primary-key classification. Every identifier emitted anywhere in the
// engine's generated SQL passes through QuoteIdent; every user-origin
// string literal passes through EscapeLiteral.
package sqlsafe

import (
	"strconv"
	"strings"

	"github.com/filtermate/spatialengine/model"
)

// QuoteIdent double-quotes s for use as a SQL identifier, doubling any
// embedded double quotes so the result is always a single well-formed
// identifier token: "s" with embedded quotes escaped as "".
func QuoteIdent(s string) (string, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return "", model.ErrInvalidIdentifier{Identifier: s, Reason: "contains NUL byte"}
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
}

// MustQuoteIdent is QuoteIdent for call sites that have already validated
// the identifier (e.g. constants) and don't want to thread an error.
func MustQuoteIdent(s string) string {
	q, err := QuoteIdent(s)
	if err != nil {
		panic(err)
	}
	return q
}

// EscapeLiteral produces a single-quoted SQL string literal from s,
// doubling any embedded single quotes: 's'.
func EscapeLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// FormatInList renders values as a comma-separated SQL IN-list. Numeric
// values are emitted bare; text values are escaped and quoted.
func FormatInList(values []string, numeric bool) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		if numeric {
			parts[i] = v
		} else {
			parts[i] = EscapeLiteral(v)
		}
	}
	return strings.Join(parts, ",")
}

// FormatInt64InList is a convenience wrapper for numeric primary keys,
// avoiding an int64->string->possibly-non-numeric round trip at call sites.
func FormatInt64InList(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// DetectPKNumeric reports whether field's declared SQL type is a numeric
// type, used to decide IN-list formatting and whether a ::numeric cast is
// required when comparing a text column to a numeric literal.
func DetectPKNumeric(sqlType string) bool {
	switch strings.ToLower(strings.TrimSpace(sqlType)) {
	case "integer", "int", "int2", "int4", "int8", "bigint", "smallint",
		"serial", "bigserial", "numeric", "decimal", "real", "double precision",
		"float", "float4", "float8":
		return true
	}
	return false
}
