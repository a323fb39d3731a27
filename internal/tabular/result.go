// Package tabular holds the in-memory representation the corrective
// rules operate on once a query has been executed against the
// backend, and the re-serializer that turns it back into the
// backend's native JSON response envelope.
package tabular

// TagPair is one tag key/value pair attached to a series.
type TagPair struct {
	Key   string
	Value string
}

// SeriesKey identifies one series within a statement's result: the
// measurement name, plus the tag set for grouped queries. A query with
// no GROUP BY on tags produces a single series per measurement with an
// empty Tags slice.
type SeriesKey struct {
	Measurement string
	Tags        []TagPair
}

// Series holds one table of results: a time-ordered set of rows, each
// with one value per column. Columns[0] is always "time". A cell value
// of nil marshals to JSON null, representing a NaN or missing sample.
type Series struct {
	Key     SeriesKey
	Columns []string
	Rows    [][]any
}

// NumRows reports how many data rows a series holds.
func (s Series) NumRows() int { return len(s.Rows) }

// ColumnIndex returns the position of a named column, or -1 if absent.
func (s Series) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Statement is the tabular result of one executed SQL statement
// (one slot of the backend's top-level "results" array).
type Statement struct {
	StatementID int
	Series      []Series
	Err         string
}

// Result is the full tabular result of a (possibly multi-statement)
// query, keyed by statement order — the position a statement occupies
// here is the position its corrected or pass-through JSON occupies in
// the final response.
type Result struct {
	Statements []Statement
}

// SeriesByKey finds a series by its key within a statement.
func (st Statement) SeriesByKey(key SeriesKey) (Series, bool) {
	for _, s := range st.Series {
		if s.Key.Measurement == key.Measurement && tagsEqual(s.Key.Tags, key.Tags) {
			return s, true
		}
	}
	return Series{}, false
}

func tagsEqual(a, b []TagPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
