package query

import (
	"regexp"
	"strings"
)

// MeasurementPath is the dot-separated "schema"."rp"."measurement"
// target of a FROM clause. Any of Schema/RP may be empty: InfluxQL
// allows a bare measurement name, a "rp"."measurement" pair, or the
// fully qualified three-part form.
type MeasurementPath struct {
	Schema      string
	RP          string
	Measurement string
}

// String renders the path back to InfluxQL form, quoting each
// non-empty segment and omitting empty leading segments.
func (m MeasurementPath) String() string {
	var parts []string
	if m.Schema != "" {
		parts = append(parts, quoteIdent(m.Schema))
	}
	if m.RP != "" {
		parts = append(parts, quoteIdent(m.RP))
	}
	parts = append(parts, quoteIdent(m.Measurement))
	return strings.Join(parts, ".")
}

func quoteIdent(s string) string {
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s
	}
	return `"` + s + `"`
}

// ParseMeasurementPath splits a FROM target into its component parts.
// It is quote-aware: dots inside a quoted identifier do not split the
// path, so segments that start or end with an unbalanced quote are
// reassembled before the path is interpreted.
func ParseMeasurementPath(raw string) MeasurementPath {
	raw = strings.TrimSpace(raw)
	rawParts := strings.Split(raw, ".")

	// Reassemble any split that landed inside a quoted identifier: a
	// part beginning with `"` but not ending with one is glued to
	// following parts until the quote closes.
	var parts []string
	for i := 0; i < len(rawParts); i++ {
		p := rawParts[i]
		if strings.HasPrefix(p, `"`) && !strings.HasSuffix(p, `"`) {
			for i+1 < len(rawParts) {
				i++
				p += "." + rawParts[i]
				if strings.HasSuffix(rawParts[i], `"`) {
					break
				}
			}
		}
		parts = append(parts, strings.Trim(p, `"`))
	}

	switch len(parts) {
	case 1:
		return MeasurementPath{Measurement: parts[0]}
	case 2:
		return MeasurementPath{RP: parts[0], Measurement: parts[1]}
	default:
		return MeasurementPath{Schema: parts[0], RP: parts[1], Measurement: strings.Join(parts[2:], ".")}
	}
}

var (
	selectRe  = regexp.MustCompile(`(?i)^\s*select\s+`)
	fromRe    = regexp.MustCompile(`(?i)\s+from\s+`)
	whereRe   = regexp.MustCompile(`(?i)\s+where\s+`)
	groupByRe = regexp.MustCompile(`(?i)\s+group\s+by\s+`)
	timeFnRe  = regexp.MustCompile(`(?i)time\(\s*(-?\d+)(ns|µ|u|ms|s|m|h|d|w)\s*\)`)
)

// IsSelect reports whether the raw query text is a SELECT statement.
// Non-SELECT statements (writes, SHOW, DELETE, ...) are never rewritten
// by the corrective pipeline.
func IsSelect(rawQuery string) bool {
	return selectRe.MatchString(rawQuery)
}

// Parse tokenizes a single SQL-like statement into a ParsedQuery. The
// statement must already be a single query (callers split on ";"
// before parsing, preserving each statement's own result slot).
func Parse(rawQuery string) *ParsedQuery {
	p := &ParsedQuery{}

	rest := rawQuery
	offset := 0

	selLoc := selectRe.FindStringIndex(rest)
	if selLoc == nil {
		// Not a SELECT: keep the whole statement as a single opaque
		// literal token so String() round-trips it unchanged.
		p.Tokens = []Token{{Kind: KindLiteral, Text: rawQuery}}
		return p
	}
	p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: rawQuery[:selLoc[1]]})
	offset = selLoc[1]

	fromLoc := fromRe.FindStringIndex(rawQuery[offset:])
	if fromLoc == nil {
		p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: rawQuery[offset:]})
		return p
	}
	colsText := rawQuery[offset : offset+fromLoc[0]]
	p.Tokens = append(p.Tokens, Token{Kind: KindColumns, Text: colsText})
	p.selectCols = splitColumns(colsText)

	fromKeyword := rawQuery[offset+fromLoc[0] : offset+fromLoc[1]]
	offset += fromLoc[1]
	fromStart := offset

	whereLoc := whereRe.FindStringIndex(rawQuery[offset:])
	groupLoc := groupByRe.FindStringIndex(rawQuery[offset:])

	// Determine where the FROM target ends: at WHERE, GROUP BY, or end
	// of statement, whichever comes first.
	fromEnd := len(rawQuery) - offset
	if whereLoc != nil && whereLoc[0] < fromEnd {
		fromEnd = whereLoc[0]
	}
	if groupLoc != nil && groupLoc[0] < fromEnd {
		fromEnd = groupLoc[0]
	}
	fromText := rawQuery[offset : offset+fromEnd]
	p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: fromKeyword})
	p.Tokens = append(p.Tokens, Token{Kind: KindFrom, Text: fromText})
	p.from = ParseMeasurementPath(fromText)
	p.hasFrom = true
	offset += fromEnd

	if whereLoc != nil {
		// whereLoc is relative to fromStart, not to the post-FROM offset.
		whereKeyword := rawQuery[fromStart+whereLoc[0] : fromStart+whereLoc[1]]
		afterWhere := fromStart + whereLoc[1]
		whereEnd := len(rawQuery) - afterWhere
		if groupLoc != nil {
			// groupLoc was computed relative to the post-FROM offset;
			// recompute relative to afterWhere.
			gl := groupByRe.FindStringIndex(rawQuery[afterWhere:])
			if gl != nil {
				whereEnd = gl[0]
			}
		}
		whereText := rawQuery[afterWhere : afterWhere+whereEnd]
		p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: whereKeyword})
		p.Tokens = append(p.Tokens, Token{Kind: KindWhere, Text: whereText})
		p.whereText = whereText
		p.hasWhere = true
		offset = afterWhere + whereEnd
	}

	if groupLoc != nil {
		gl := groupByRe.FindStringIndex(rawQuery[offset:])
		if gl != nil {
			groupKeyword := rawQuery[offset+gl[0] : offset+gl[1]]
			groupText := rawQuery[offset+gl[1]:]
			p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: rawQuery[offset : offset+gl[0]]})
			p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: groupKeyword})
			p.Tokens = append(p.Tokens, Token{Kind: KindGroupBy, Text: groupText})
			p.groupBy = splitColumns(groupText)
			return p
		}
	}

	if offset < len(rawQuery) {
		p.Tokens = append(p.Tokens, Token{Kind: KindLiteral, Text: rawQuery[offset:]})
	}
	return p
}

// splitColumns splits a comma-separated list respecting parenthesis
// depth, so "mean(x), count(y)" splits into two items rather than
// four.
func splitColumns(s string) []Column {
	var cols []Column
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				cols = append(cols, parseColumn(s[start:i]))
				start = i + 1
			}
		}
	}
	if start < len(s) {
		cols = append(cols, parseColumn(s[start:]))
	}
	return cols
}

var funcCallRe = regexp.MustCompile(`(?i)^\s*([a-z_]+)\s*\((.*)\)\s*(?:as\s+("?[^"\s]+"?))?\s*$`)

func parseColumn(raw string) Column {
	c := Column{Raw: strings.TrimSpace(raw)}
	m := funcCallRe.FindStringSubmatch(c.Raw)
	if m == nil {
		return c
	}
	c.Func = strings.ToLower(m[1])
	c.Alias = m[3]
	arg := strings.TrimSpace(m[2])
	c.InnerArg = arg
	c.Args = splitTopLevelComma(arg)
	if inner := funcCallRe.FindStringSubmatch(arg); inner != nil {
		c.InnerFn = strings.ToLower(inner[1])
	}
	return c
}

// splitTopLevelComma splits a function call's argument list on commas
// that are not nested inside parentheses, so
// "non_negative_derivative(counter, 10s)"'s inner "counter, 10s"
// splits into ["counter", "10s"] while "mean(a + b)"'s single
// argument is not split at all.
func splitTopLevelComma(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if start <= len(s) {
		tail := strings.TrimSpace(s[start:])
		if tail != "" {
			parts = append(parts, tail)
		}
	}
	return parts
}

// Columns returns the SELECT column list as parsed.
func (p *ParsedQuery) Columns() []Column { return p.selectCols }

// From returns the FROM target, if the query had one.
func (p *ParsedQuery) From() (MeasurementPath, bool) { return p.from, p.hasFrom }

// Where returns the WHERE clause text, if present.
func (p *ParsedQuery) Where() (string, bool) { return p.whereText, p.hasWhere }

// GroupBy returns the raw GROUP BY item list.
func (p *ParsedQuery) GroupBy() []Column { return p.groupBy }

// GroupByTimeInterval returns the interval inside a "time(N unit)"
// GROUP BY item, if one is present.
func (p *ParsedQuery) GroupByTimeInterval() (string, bool) {
	for _, g := range p.groupBy {
		if m := timeFnRe.FindStringSubmatch(g.Raw); m != nil {
			return m[1] + m[2], true
		}
	}
	return "", false
}

// transformationFuncs is the fixed set of functions that may wrap a
// sum(...) without breaking its rate semantics; any other wrapper
// disqualifies the column from sum-specific corrections.
var transformationFuncs = map[string]bool{
	"spread":                  true,
	"derivative":              true,
	"non_negative_derivative": true,
	"difference":              true,
	"non_negative_difference": true,
	"moving_average":          true,
	"cumulative_sum":          true,
	"stddev":                  true,
	"elapsed":                 true,
}

// HasSumGroupByTime reports whether the query both aggregates with
// sum(...) (possibly wrapped by one of the allowed transformation
// functions) and groups by time(...), the precondition shared by the
// rate-preservation modifier and the partial-interval correction rule.
func (p *ParsedQuery) HasSumGroupByTime() bool {
	if _, ok := p.GroupByTimeInterval(); !ok {
		return false
	}
	for _, c := range p.selectCols {
		if c.Func == "sum" || (transformationFuncs[c.Func] && c.InnerFn == "sum") {
			return true
		}
	}
	return false
}

// NonNegativeDerivativeColumns returns every SELECT column whose
// outer function is non_negative_derivative, along with its explicit
// interval argument if one was given (e.g.
// non_negative_derivative(value, 10s)).
func (p *ParsedQuery) NonNegativeDerivativeColumns() []Column {
	var out []Column
	for _, c := range p.selectCols {
		if c.Func == "non_negative_derivative" {
			out = append(out, c)
		}
	}
	return out
}

var (
	lowerBoundRe = regexp.MustCompile(`(?i)time\s*>=?\s*(now\(\)(?:\s*[-+]\s*\d+[a-zµ]+)?|'[^']+'|\d+)`)
	upperBoundRe = regexp.MustCompile(`(?i)time\s*<=?\s*(now\(\)(?:\s*[-+]\s*\d+[a-zµ]+)?|'[^']+'|\d+)`)
)

// LowerTimeBound extracts the lower time-range literal from the WHERE
// clause, if one can be recognised. Only a bound the arithmetic
// package can parse unambiguously (a now()-relative expression, an
// RFC3339 literal, or a raw epoch) counts as parsable; anything else
// reports ok=false so callers skip rules that require a concrete
// window.
func (p *ParsedQuery) LowerTimeBound() (string, bool) {
	if !p.hasWhere {
		return "", false
	}
	m := lowerBoundRe.FindStringSubmatch(p.whereText)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// UpperTimeBound extracts the upper time-range literal, mirroring
// LowerTimeBound.
func (p *ParsedQuery) UpperTimeBound() (string, bool) {
	if !p.hasWhere {
		return "", false
	}
	m := upperBoundRe.FindStringSubmatch(p.whereText)
	if m == nil {
		return "", false
	}
	return m[1], true
}
