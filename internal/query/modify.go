package query

import (
	"fmt"
	"regexp"
	"strings"
)

// ChangeRP rewrites the FROM clause to target a different retention
// policy, leaving the schema and measurement untouched. If the query
// had no explicit schema (a bare or two-part FROM), the schema is left
// absent so the backend resolves it from the connection's database
// parameter.
func (p *ParsedQuery) ChangeRP(newRP string) {
	path, ok := p.From()
	if !ok {
		return
	}
	path.RP = newRP
	p.replaceKind(KindFrom, path.String())
	p.from = path
}

// ChangeGroupByTimeInterval rewrites the GROUP BY list's time(...)
// item to the given interval literal, leaving any other GROUP BY items
// (tag groupings) untouched.
func (p *ParsedQuery) ChangeGroupByTimeInterval(newInterval string) bool {
	text, ok := p.findKind(KindGroupBy)
	if !ok {
		return false
	}
	newText := timeFnRe.ReplaceAllString(text, fmt.Sprintf("time(%s)", newInterval))
	if newText == text {
		return false
	}
	p.replaceKind(KindGroupBy, newText)
	p.groupBy = splitColumns(newText)
	return true
}

// sumWrapperRe matches sum(col) optionally wrapped by one of the
// transformation functions that pass a rate through unchanged in
// shape: spread, derivative, non_negative_derivative, difference,
// non_negative_difference, moving_average, cumulative_sum, stddev,
// elapsed. Only the sum call itself is matched, so a wrapper and its
// own arguments (e.g. the explicit interval of
// non_negative_derivative) survive the rewrite untouched.
var sumWrapperRe = regexp.MustCompile(
	`(?i)\bsum\s*\(\s*([^()]+?)\s*\)`,
)

// ChangeSumGroupByTimeFactor multiplies every sum(...) column's value
// by the literal fraction "oldPoints / newPoints" so the aggregate
// keeps representing a rate after the GROUP BY interval changes. The
// factor is emitted as an arithmetic expression string rather than
// evaluated in Go, so the backend evaluates it with its own numeric
// type. The fraction must stay parenthesized: multiplication binds
// tighter than division, and the factor has to reach the backend as a
// single term.
func (p *ParsedQuery) ChangeSumGroupByTimeFactor(oldPoints, newPoints int64) bool {
	text, ok := p.findKind(KindColumns)
	if !ok {
		return false
	}
	factor := fmt.Sprintf("(%d / %d)", oldPoints, newPoints)
	newText := sumWrapperRe.ReplaceAllString(text, fmt.Sprintf("sum($1) * %s", factor))
	if newText == text {
		return false
	}
	p.replaceKind(KindColumns, newText)
	p.selectCols = splitColumns(newText)
	return true
}

// AddLimit appends a LIMIT clause to the query, used by the
// points-budget limiter's series-cardinality probe query.
func (p *ParsedQuery) AddLimit(n int64) {
	suffix := fmt.Sprintf(" LIMIT %d", n)
	p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: suffix})
}

// ExtendLowerTimeBound rewrites the WHERE clause's lower time-bound
// literal to `<literal> - <interval>` (or `+` for a positive delta),
// so a rule can request extra history to discard before
// re-serializing. It handles every bound form LowerTimeBound
// recognises: now()-relative expressions, quoted RFC3339 literals,
// and raw epoch integers, all of which the backend accepts duration
// arithmetic on.
func (p *ParsedQuery) ExtendLowerTimeBound(deltaNumber int64, deltaUnit string) bool {
	text, ok := p.findKind(KindWhere)
	if !ok {
		return false
	}
	replaced := false
	newText := lowerBoundRe.ReplaceAllStringFunc(text, func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		return fmt.Sprintf("%s %s %d%s", m, signOf(deltaNumber), abs64(deltaNumber), deltaUnit)
	})
	if newText == text {
		return false
	}
	p.replaceKind(KindWhere, newText)
	p.whereText = newText
	return true
}

func signOf(n int64) string {
	if n < 0 {
		return "-"
	}
	return "+"
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// RemoveNonNegativeDerivative strips the non_negative_derivative(...)
// wrapper from every matching SELECT column, leaving the inner
// expression bare so the corrective rule can fetch raw counter values
// and compute the derivative itself. forcedNames renames the resulting
// bare column (via "AS"), keyed by the column's position in the SELECT
// list, so the stripped column still carries the name clients expect.
func (p *ParsedQuery) RemoveNonNegativeDerivative(forcedNames map[int]string) bool {
	text, ok := p.findKind(KindColumns)
	if !ok {
		return false
	}
	cols := splitColumns(text)
	changed := false
	rebuilt := make([]string, len(cols))
	for i, c := range cols {
		if c.Func != "non_negative_derivative" {
			rebuilt[i] = c.Raw
			continue
		}
		inner := c.InnerArg
		if len(c.Args) > 0 {
			inner = c.Args[0]
		}
		if name, ok := forcedNames[i]; ok {
			inner = fmt.Sprintf("%s AS %s", inner, name)
		}
		rebuilt[i] = inner
		changed = true
	}
	if !changed {
		return false
	}
	newText := strings.Join(rebuilt, ", ")
	p.replaceKind(KindColumns, newText)
	p.selectCols = splitColumns(newText)
	return true
}
