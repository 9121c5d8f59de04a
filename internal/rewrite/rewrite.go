// Package rewrite patches a fixed catalog of recurring LLM SQL slips before
// the statement reaches the guard. Every rewrite is deterministic and
// idempotent; match positions are computed on literal-masked text and edits
// applied to the raw statement, so quoted content is never touched.
package rewrite

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/marketlens/marketlens/internal/guard"
)

// MinutelySpec describes a minutely time-series table eligible for the
// hourly pre-aggregation rewrite.
type MinutelySpec struct {
	Table    string   // fully qualified
	TsColumn string   // timestamp column, usually "ts"
	Metric   string   // value column averaged per hour
	Dims     []string // grouping dimensions carried through
}

type Rewriter struct {
	fractionCols []string
	minutely     []MinutelySpec
}

// New builds a rewriter over the declared fraction-bounded columns and the
// minutely table catalog.
func New(fractionCols map[string]struct{}, minutely []MinutelySpec) *Rewriter {
	r := &Rewriter{minutely: minutely}
	for col := range fractionCols {
		r.fractionCols = append(r.fractionCols, col)
	}
	return r
}

// Apply runs the full catalog in order. Running it twice yields the same
// output.
func (r *Rewriter) Apply(question, sql string) string {
	sql = r.percentToFraction(sql)
	sql = r.atLeastHours(question, sql)
	sql = r.hourlyPreAggregate(question, sql)
	sql = r.percentileOverWindow(sql)
	return sql
}

// percentToFraction rewrites comparisons like "utilization > 80" to
// "utilization > 0.8000" for columns whose values lie in [0,1]. Thresholds
// below 1 are already fractions and left alone. All edits are collected
// against one mask and applied back to front, so earlier replacements cannot
// shift the offsets of later ones.
func (r *Rewriter) percentToFraction(sql string) string {
	masked := guard.MaskLiterals(sql)

	type edit struct {
		start, end int
		repl       string
	}
	var edits []edit
	for _, col := range r.fractionCols {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(col) + `\s*(?:>=|<=|=|>|<)\s*(\d+(?:\.\d+)?)\b`)
		for _, idx := range re.FindAllStringSubmatchIndex(masked, -1) {
			n, err := strconv.ParseFloat(masked[idx[2]:idx[3]], 64)
			if err != nil || n < 1 {
				continue
			}
			edits = append(edits, edit{start: idx[2], end: idx[3], repl: fmt.Sprintf("%.4f", n/100)})
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })

	out := sql
	for _, e := range edits {
		out = out[:e.start] + e.repl + out[e.end:]
	}
	return out
}

var reAtLeast = regexp.MustCompile(`(?i)\bat least (\d+)\b`)

// atLeastHours turns "streak_count = N" or "hours = N" into ">= N" when the
// question said "at least N".
func (r *Rewriter) atLeastHours(question, sql string) string {
	m := reAtLeast.FindStringSubmatch(question)
	if m == nil {
		return sql
	}
	n := m[1]
	masked := guard.MaskLiterals(sql)
	re := regexp.MustCompile(`(?i)\b(streak_count|hours)(\s*)=(\s*` + n + `)\b`)
	matches := re.FindAllStringSubmatchIndex(masked, -1)
	out := sql
	for i := len(matches) - 1; i >= 0; i-- {
		idx := matches[i]
		// group 2 ends where "=" sits
		eq := idx[5]
		out = out[:eq] + ">=" + out[eq+1:]
	}
	return out
}

var reStreakQuestion = regexp.MustCompile(`(?i)\b(consecutive|streaks?|hours?|hourly)\b`)

// hourlyPreAggregate wraps a direct read of a minutely table in an hourly
// AVG subquery when the question asks about streaks or consecutive hours,
// and renames bare ts references to hour. Without this the model counts
// minutes where it means hours.
func (r *Rewriter) hourlyPreAggregate(question, sql string) string {
	if !reStreakQuestion.MatchString(question) {
		return sql
	}
	lower := strings.ToLower(sql)
	if strings.Contains(lower, "date_trunc('hour'") {
		return sql
	}
	for _, spec := range r.minutely {
		if !strings.Contains(lower, spec.Table) && !strings.Contains(lower, baseName(spec.Table)) {
			continue
		}
		return r.wrapHourly(sql, spec)
	}
	return sql
}

func baseName(fqtn string) string {
	if _, base, ok := strings.Cut(fqtn, "."); ok {
		return base
	}
	return fqtn
}

func (r *Rewriter) wrapHourly(sql string, spec MinutelySpec) string {
	masked := guard.MaskLiterals(sql)
	re := regexp.MustCompile(`(?i)\b(from|join)\s+(?:` + regexp.QuoteMeta(spec.Table) + `|` + regexp.QuoteMeta(baseName(spec.Table)) + `)\b(\s+(?:as\s+)?[a-zA-Z_]\w*)?`)
	idx := re.FindStringSubmatchIndex(masked)
	if idx == nil {
		return sql
	}

	dims := strings.Join(spec.Dims, ", ")
	groupBy := "1"
	selectDims := ""
	if dims != "" {
		groupBy += ", " + dims
		selectDims = ", " + dims
	}
	where := baselineFilters(sql, spec.Dims)

	// Keep an existing table alias so outer qualified references stay valid.
	// The alias group can overmatch a following keyword; back off in that case.
	alias := "h"
	end := idx[1]
	if idx[4] != -1 {
		a := strings.TrimSpace(masked[idx[4]:idx[5]])
		a = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(a, "AS "), "as "))
		if a != "" && !sqlKeyword(a) {
			alias = a
		} else {
			end = idx[4]
		}
	}

	sub := fmt.Sprintf("(SELECT date_trunc('hour', %s) AS hour, AVG(%s) AS %s%s FROM %s%s GROUP BY %s) %s",
		spec.TsColumn, spec.Metric, spec.Metric, selectDims, spec.Table, where, groupBy, alias)

	keyword := sql[idx[2]:idx[3]]
	out := sql[:idx[0]] + keyword + " " + sub + sql[end:]

	// Rename bare ts references in the outer query; the hourly subquery
	// exposes the truncated timestamp as "hour".
	outMasked := guard.MaskLiterals(out)
	reTs := regexp.MustCompile(`\b` + regexp.QuoteMeta(spec.TsColumn) + `\b`)
	for _, m := range reverse(reTs.FindAllStringIndex(outMasked, -1)) {
		if m[0] > 0 && outMasked[m[0]-1] == '.' {
			continue // qualified reference, leave as is
		}
		if within(m[0], idx[0], idx[0]+len(keyword)+1+len(sub)) {
			continue // inside the subquery we just built
		}
		out = out[:m[0]] + "hour" + out[m[1]:]
	}
	return out
}

func sqlKeyword(word string) bool {
	switch strings.ToLower(word) {
	case "where", "group", "order", "limit", "offset", "join", "inner",
		"left", "right", "full", "cross", "on", "union", "having", "window":
		return true
	}
	return false
}

func reverse(in [][]int) [][]int {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
	return in
}

func within(pos, lo, hi int) bool { return pos >= lo && pos < hi }

// baselineFilters carries simple dimension equality filters (symbol = '...')
// from the outer query into the hourly subquery so the pre-aggregation scans
// the same slice of the table.
func baselineFilters(sql string, dims []string) string {
	var conds []string
	for _, dim := range dims {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(dim) + `\s*=\s*'(?:[^']|'')*'`)
		if m := re.FindString(sql); m != "" {
			conds = append(conds, m)
		}
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

var rePercentileOver = regexp.MustCompile(
	`(?i)percentile_cont\s*\(\s*([0-9.]+)\s*\)\s*within\s+group\s*\(\s*order\s+by\s+([a-zA-Z_][\w.]*)\s*\)\s*over\s*\([^()]*\)`)

var reFirstFrom = regexp.MustCompile(`(?i)\bfrom\s+((?:[a-zA-Z_]\w*\.)?[a-zA-Z_]\w*)\b`)

// percentileOverWindow replaces the illegal "ordered-set aggregate ... OVER"
// construct with a correlated subquery computing the same percentile over a
// 30-day trailing window on an hourly pre-aggregation. Postgres rejects the
// original form outright.
func (r *Rewriter) percentileOverWindow(sql string) string {
	masked := guard.MaskLiterals(sql)
	matches := rePercentileOver.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return sql
	}

	table := ""
	if m := reFirstFrom.FindStringSubmatch(masked); m != nil {
		table = strings.ToLower(m[1])
		if !strings.Contains(table, ".") {
			table = "public." + table
		}
	}
	if table == "" {
		return sql
	}

	out := sql
	for i := len(matches) - 1; i >= 0; i-- {
		idx := matches[i]
		p := masked[idx[2]:idx[3]]
		col := masked[idx[4]:idx[5]]
		if dot := strings.LastIndex(col, "."); dot >= 0 {
			col = col[dot+1:]
		}
		sub := fmt.Sprintf(
			"(SELECT percentile_cont(%s) WITHIN GROUP (ORDER BY hh.%s) FROM "+
				"(SELECT date_trunc('hour', ts) AS hour, AVG(%s) AS %s FROM %s "+
				"WHERE ts >= NOW() - INTERVAL '30 days' GROUP BY 1) hh)",
			p, col, col, col, table)
		out = out[:idx[0]] + sub + out[idx[1]:]
	}
	return out
}
