package service

import (
	"regexp"

	"github.com/marketlens/marketlens/internal/guard"
)

var reTimeFilter = regexp.MustCompile(`(?i)\b(and|where)\s+ts\s*>=`)
var reTsGte = regexp.MustCompile(`(?i)\bts\s*>=`)
// Terminators for the stripped expression. AND and GROUP BY are included so
// a following clause survives the strip intact.
var reClauseEnd = regexp.MustCompile(`(?i)\border\s+by\b|\blimit\b|\bgroup\s+by\b|\band\b`)

// stripTimeFilter removes the first "AND ts >= ..." clause (up to the next
// ")", ORDER BY, LIMIT or end of statement) or rewrites "WHERE ts >= ..." to
// "WHERE 1=1" so following AND clauses stay valid. It reports false when the
// statement has no time filter, or when ts filters appear at more than one
// nesting level — stripping across nested subqueries risks emitting
// malformed SQL, so the fallback is skipped instead.
func stripTimeFilter(sql string) (string, bool) {
	masked := guard.MaskLiterals(sql)

	occurrences := reTsGte.FindAllStringIndex(masked, -1)
	if len(occurrences) == 0 {
		return "", false
	}
	if len(occurrences) > 1 {
		return "", false // nested or repeated time filters; do not guess
	}

	m := reTimeFilter.FindStringSubmatchIndex(masked)
	if m == nil {
		return "", false
	}
	keyword := masked[m[2]:m[3]]
	clauseStart := m[0]

	// Find where the filter expression ends: the first ")" that closes a
	// paren opened before the clause, ORDER BY, LIMIT, or end of statement.
	end := len(masked)
	depth := 0
	for i := m[1]; i < len(masked); i++ {
		c := masked[i]
		if c == '(' {
			depth++
			continue
		}
		if c == ')' {
			if depth == 0 {
				end = i
				break
			}
			depth--
			continue
		}
		if depth == 0 {
			if loc := reClauseEnd.FindStringIndex(masked[i:]); loc != nil && loc[0] == 0 {
				end = i
				break
			}
		}
	}

	if keyword == "where" || keyword == "WHERE" || keyword == "Where" {
		return sql[:clauseStart] + "WHERE 1=1 " + sql[end:], true
	}
	return sql[:clauseStart] + " " + sql[end:], true
}
