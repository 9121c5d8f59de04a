// Package guard decides whether a candidate SQL string may reach the
// database. It is lexical, not a parser: it proves the statement is a single
// read-only SELECT/WITH confined to allow-listed tables and columns, and
// clamps LIMIT at statement scope. It tolerates false positives (rejecting
// valid SQL it cannot prove safe) and sits in front of a database role that
// should itself be read-only.
package guard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Kind string

const (
	KindEmptyStatement   Kind = "empty_statement"
	KindMultiStatement   Kind = "multi_statement"
	KindNotReadOnly      Kind = "not_read_only"
	KindCommentNotAllowed Kind = "comment_not_allowed"
	KindSystemSchema     Kind = "system_schema"
	KindTableNotAllowed  Kind = "table_not_allowed"
	KindColumnNotAllowed Kind = "column_not_allowed"
)

// Error reports which rule rejected the statement. SQL carries the candidate
// so callers can attach it to responses and logs.
type Error struct {
	Kind   Kind
	Detail string
	SQL    string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// GuardedSql is a statement that passed every check. It exists as a distinct
// type so the executor can refuse anything that did not come through Check.
type GuardedSql struct {
	Text string
}

// DefaultMaxLimit is the row cap applied when the caller passes maxLimit <= 0.
const DefaultMaxLimit = 500

var (
	rePrefix    = regexp.MustCompile(`(?i)^\s*(select|with)\b`)
	reForbidden = regexp.MustCompile(`(?i)\b(update|insert|delete|drop|alter|truncate|create|grant|revoke|copy|vacuum|analyze)\b`)
	reSystem    = regexp.MustCompile(`(?i)\b(pg_catalog|pg_toast|information_schema)\b`)

	reDerivedAlias = regexp.MustCompile(`(?i)\)\s*(?:as\s+)?([a-zA-Z_]\w*)`)
	reCTEHead      = regexp.MustCompile(`(?i)\bwith\s+(?:recursive\s+)?([a-zA-Z_]\w*)\s*(?:\([^()]*\))?\s+as\s*\(`)
	reCTETail      = regexp.MustCompile(`(?i),\s*([a-zA-Z_]\w*)\s*(?:\([^()]*\))?\s+as\s*\(`)

	reTableRef = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_]\w*(?:\.[a-zA-Z_]\w*)?)`)
	reColRef3  = regexp.MustCompile(`\b([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)`)
	reColRef2  = regexp.MustCompile(`\b([a-zA-Z_]\w*)\.([a-zA-Z_]\w*)`)

	reLimitN   = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)
	reLimitAll = regexp.MustCompile(`(?i)\blimit\s+all\b`)
	reLimitTok = regexp.MustCompile(`(?i)\blimit\b`)
)

// srfAllowed lists set-returning functions permitted in FROM even though they
// are not declared tables.
var srfAllowed = map[string]struct{}{
	"generate_series": {},
	"unnest":          {},
}

// keywords that can sit between FROM/JOIN and the real target; skipped rather
// than treated as table names.
var fromNoise = map[string]struct{}{
	"lateral": {},
	"only":    {},
}

// Check validates sql against the allow-lists and returns the normalized
// statement. All lexical checks run on a copy with string literals masked, so
// literal content can never trigger or suppress a rule.
func Check(sql string, tables map[string]struct{}, colsByTable map[string]map[string]struct{}, maxLimit int) (GuardedSql, error) {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}

	raw := strings.TrimSpace(sql)
	if raw == "" {
		return GuardedSql{}, &Error{Kind: KindEmptyStatement, SQL: sql}
	}
	// One trailing semicolon is cosmetic; anything beyond is multi-statement.
	raw = strings.TrimSpace(strings.TrimSuffix(raw, ";"))
	if raw == "" {
		return GuardedSql{}, &Error{Kind: KindEmptyStatement, SQL: sql}
	}

	masked := MaskLiterals(raw)

	if strings.Contains(masked, ";") {
		return GuardedSql{}, &Error{Kind: KindMultiStatement, Detail: "statement contains a semicolon", SQL: raw}
	}
	if !rePrefix.MatchString(masked) {
		return GuardedSql{}, &Error{Kind: KindNotReadOnly, Detail: "statement must begin with SELECT or WITH", SQL: raw}
	}
	if strings.Contains(masked, "--") || strings.Contains(masked, "/*") {
		return GuardedSql{}, &Error{Kind: KindCommentNotAllowed, Detail: "SQL comments are not allowed", SQL: raw}
	}
	if m := reForbidden.FindString(masked); m != "" {
		return GuardedSql{}, &Error{Kind: KindNotReadOnly, Detail: "forbidden keyword " + strings.ToUpper(m), SQL: raw}
	}
	if m := reSystem.FindString(masked); m != "" {
		return GuardedSql{}, &Error{Kind: KindSystemSchema, Detail: strings.ToLower(m), SQL: raw}
	}

	synthetic := collectSynthetic(masked)

	if err := checkTables(raw, masked, tables, synthetic); err != nil {
		return GuardedSql{}, err
	}
	if err := checkColumns(raw, masked, tables, colsByTable, synthetic); err != nil {
		return GuardedSql{}, err
	}

	normalized := clampLimit(raw, masked, maxLimit)
	return GuardedSql{Text: normalized}, nil
}

// MaskLiterals replaces every single-quoted literal, quotes included, with
// spaces of equal byte length. Doubled quotes inside a literal are the
// standard Postgres escape and stay inside the mask.
func MaskLiterals(sql string) string {
	out := []byte(sql)
	inLiteral := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if !inLiteral {
			if c == '\'' {
				inLiteral = true
				out[i] = ' '
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(out) && out[i+1] == '\'' {
				out[i] = ' '
				out[i+1] = ' '
				i++
				continue
			}
			inLiteral = false
		}
		out[i] = ' '
	}
	return string(out)
}

// collectSynthetic gathers names that look like tables but are not: derived
// table aliases and CTE names. References qualified by these are exempt from
// allow-list checks.
func collectSynthetic(masked string) map[string]struct{} {
	synthetic := make(map[string]struct{})
	for _, m := range reDerivedAlias.FindAllStringSubmatch(masked, -1) {
		name := strings.ToLower(m[1])
		if !isReserved(name) {
			synthetic[name] = struct{}{}
		}
	}
	for _, re := range []*regexp.Regexp{reCTEHead, reCTETail} {
		for _, m := range re.FindAllStringSubmatch(masked, -1) {
			synthetic[strings.ToLower(m[1])] = struct{}{}
		}
	}
	return synthetic
}

// isReserved filters keywords that the derived-alias pattern would otherwise
// capture, e.g. ") ORDER BY" or ") WHERE".
func isReserved(name string) bool {
	switch name {
	case "order", "group", "where", "having", "limit", "offset", "on", "as",
		"and", "or", "union", "intersect", "except", "join", "inner", "left",
		"right", "full", "cross", "then", "else", "end", "when", "from",
		"select", "window", "using", "desc", "asc":
		return true
	}
	return false
}

func checkTables(raw, masked string, tables, synthetic map[string]struct{}) error {
	for _, idx := range reTableRef.FindAllStringSubmatchIndex(masked, -1) {
		name := strings.ToLower(masked[idx[2]:idx[3]])
		if _, noise := fromNoise[name]; noise {
			continue
		}
		if followedByParen(masked, idx[3]) {
			base := name
			if dot := strings.LastIndex(base, "."); dot >= 0 {
				base = base[dot+1:]
			}
			if _, ok := srfAllowed[base]; !ok {
				return &Error{Kind: KindTableNotAllowed, Detail: name, SQL: raw}
			}
			continue
		}
		if !strings.Contains(name, ".") {
			if _, ok := synthetic[name]; ok {
				continue
			}
			name = "public." + name
		}
		if _, ok := tables[name]; !ok {
			return &Error{Kind: KindTableNotAllowed, Detail: name, SQL: raw}
		}
	}
	return nil
}

func followedByParen(s string, from int) bool {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '(':
			return true
		default:
			return false
		}
	}
	return false
}

func checkColumns(raw, masked string, tables map[string]struct{}, colsByTable map[string]map[string]struct{}, synthetic map[string]struct{}) error {
	// Resolve a reference qualifier to a declared table, by fully-qualified
	// name or by bare table name.
	fqtnByRef := make(map[string]string, 2*len(tables))
	schemas := make(map[string]struct{})
	for fqtn := range tables {
		fqtnByRef[fqtn] = fqtn
		if schemaName, base, ok := strings.Cut(fqtn, "."); ok {
			fqtnByRef[base] = fqtn
			schemas[schemaName] = struct{}{}
		}
	}

	check := func(qualifier, col string) error {
		qualifier, col = strings.ToLower(qualifier), strings.ToLower(col)
		if _, ok := synthetic[qualifier]; ok {
			return nil
		}
		if _, ok := srfAllowed[qualifier]; ok {
			return nil
		}
		fqtn, ok := fqtnByRef[qualifier]
		if !ok {
			return nil // derived alias or row alias; exempt
		}
		cols := colsByTable[fqtn]
		if len(cols) == 0 {
			return nil // table declared without columns; checks skipped
		}
		if _, ok := cols[col]; !ok {
			return &Error{Kind: KindColumnNotAllowed, Detail: fqtn + "." + col, SQL: raw}
		}
		return nil
	}

	for _, m := range reColRef3.FindAllStringSubmatch(masked, -1) {
		fqtn := strings.ToLower(m[1] + "." + m[2])
		if _, ok := tables[fqtn]; ok {
			if err := check(m[2], m[3]); err != nil {
				return err
			}
		}
	}
	for _, m := range reColRef2.FindAllStringSubmatch(masked, -1) {
		if _, ok := schemas[strings.ToLower(m[1])]; ok {
			continue // schema.table reference, handled by the table scan
		}
		if err := check(m[1], m[2]); err != nil {
			return err
		}
	}
	return nil
}

// clampLimit clamps every numeric LIMIT to maxLimit and appends one at
// statement scope when none exists there. Paren depth is tracked so a LIMIT
// inside a subquery does not satisfy the statement-scope requirement.
func clampLimit(raw, masked string, maxLimit int) string {
	out := raw
	topLevel := false

	matches := reLimitN.FindAllStringSubmatchIndex(masked, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		idx := matches[i]
		n, err := strconv.Atoi(masked[idx[2]:idx[3]])
		if err != nil {
			continue
		}
		if depthAt(masked, idx[0]) == 0 {
			topLevel = true
		}
		if n > maxLimit {
			out = out[:idx[2]] + strconv.Itoa(maxLimit) + out[idx[3]:]
		}
	}

	// LIMIT ALL at statement scope would defeat the cap; rewrite it. Only
	// done when no numeric LIMIT was edited, so masked offsets still hold.
	if len(matches) == 0 {
		if m := reLimitAll.FindStringIndex(masked); m != nil && depthAt(masked, m[0]) == 0 {
			out = out[:m[0]] + "LIMIT " + strconv.Itoa(maxLimit) + out[m[1]:]
			topLevel = true
		}
	}

	if !topLevel {
		// A bare statement-scope LIMIT token (already clamped or not numeric)
		// still counts; only append when none is present at depth zero.
		for _, m := range reLimitTok.FindAllStringIndex(masked, -1) {
			if depthAt(masked, m[0]) == 0 {
				topLevel = true
				break
			}
		}
	}
	if !topLevel {
		out += "\nLIMIT " + strconv.Itoa(maxLimit)
	}
	return out
}

func depthAt(s string, pos int) int {
	depth := 0
	for i := 0; i < pos && i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}
