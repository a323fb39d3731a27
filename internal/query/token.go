// Package query implements a narrow SQL-like query parser, a
// stringifier, and a set of rewrite primitives sufficient to recognise
// and correct InfluxQL SELECT statements without implementing a full
// SQL grammar. The parser produces a tagged-variant token stream: each
// clause of the query (columns, FROM target, WHERE clause, GROUP BY
// list) is held as its own Token, and rewriting a clause replaces that
// Token's text wholesale rather than mutating a parse tree in place.
package query

import "strings"

// TokenKind tags the structural role of a Token within a ParsedQuery.
// A rewrite primitive that changes a clause always assigns KindLiteral
// to the token it replaces: once a clause has been rewritten, later
// passes treat its text as opaque rather than re-deriving it from
// still-structured fields, the same "reworked token" idiom the query
// modification helpers use.
type TokenKind int

const (
	// KindLiteral is raw text copied verbatim into the output query:
	// keywords, punctuation between clauses, and any clause already
	// rewritten by a modifier.
	KindLiteral TokenKind = iota
	// KindWhitespace tags a whitespace-only token. Parse does not emit
	// it: whitespace around keywords is kept inside the neighbouring
	// KindLiteral tokens, so re-stringifying an unmodified query is
	// still a no-op.
	KindWhitespace
	// KindColumns holds the comma-separated SELECT column list.
	KindColumns
	// KindFrom holds the measurement path after FROM.
	KindFrom
	// KindWhere holds the WHERE clause, excluding the WHERE keyword.
	KindWhere
	// KindGroupBy holds the GROUP BY list, excluding the GROUP BY
	// keywords.
	KindGroupBy
)

// Token is one segment of a ParsedQuery's linear reconstruction.
type Token struct {
	Kind TokenKind
	Text string
}

// ParsedQuery is an editable representation of a single SQL-like
// statement. It is rebuilt by concatenating Tokens in order; rewrite
// primitives in modify.go replace individual Tokens rather than
// re-parsing the whole statement.
type ParsedQuery struct {
	Tokens []Token

	// Cached structural views, valid as of the last Parse or
	// modification; each rewrite primitive refreshes the view it
	// touched so a caller can immediately re-inspect the query.
	selectCols []Column
	from       MeasurementPath
	hasFrom    bool
	groupBy    []Column
	whereText  string
	hasWhere   bool
}

// Column describes one item of a SELECT column list: its raw text,
// the outer aggregate/transformation function name if any (e.g. "sum",
// "non_negative_derivative"), and, for functions that wrap another
// function, the inner function name. Inspection is two levels deep;
// the rules never need more.
type Column struct {
	Raw      string
	Func     string
	InnerArg string
	InnerFn  string
	// Args holds the outer function's comma-separated argument list,
	// split at paren depth zero, e.g. for
	// non_negative_derivative(counter, 10s), Args is ["counter", "10s"].
	Args []string
	// Alias is the column's explicit AS name, if one was written.
	Alias string
}

// Clone returns an independent copy of the ParsedQuery so a rule can
// rework it (extend the time bound, strip a function wrapper) without
// disturbing the original query's tokens, since more than one rule may
// inspect the same parsed query before one of them acts on it.
func (p *ParsedQuery) Clone() *ParsedQuery {
	cp := &ParsedQuery{
		Tokens:     append([]Token(nil), p.Tokens...),
		selectCols: append([]Column(nil), p.selectCols...),
		from:       p.from,
		hasFrom:    p.hasFrom,
		groupBy:    append([]Column(nil), p.groupBy...),
		whereText:  p.whereText,
		hasWhere:   p.hasWhere,
	}
	return cp
}

// String reconstructs the query text by concatenating all tokens.
func (p *ParsedQuery) String() string {
	var b strings.Builder
	for _, t := range p.Tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// replaceKind replaces the text of the first token with the given kind
// and marks it KindLiteral, the standard "rework" step every modifier
// primitive performs. If no token of that kind exists, it is a no-op
// and the caller's modifier should treat the clause as absent.
func (p *ParsedQuery) replaceKind(kind TokenKind, newText string) bool {
	for i := range p.Tokens {
		if p.Tokens[i].Kind == kind {
			p.Tokens[i] = Token{Kind: KindLiteral, Text: newText}
			return true
		}
	}
	return false
}

// findKind returns the text of the first token with the given kind.
func (p *ParsedQuery) findKind(kind TokenKind) (string, bool) {
	for _, t := range p.Tokens {
		if t.Kind == kind {
			return t.Text, true
		}
	}
	return "", false
}
