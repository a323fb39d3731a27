package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/transatel/cleanflux/internal/dateutil"
	"github.com/transatel/cleanflux/internal/query"
	"github.com/transatel/cleanflux/internal/tabular"
)

// PartialIntervalRule removes the first and next-to-last buckets of a
// sum(...)-aggregated, time()-grouped query, which the backend
// computes over a partial (not-yet-complete) interval at the either
// end of the query's window and therefore under-reports. It works by
// extending the query window two intervals earlier than requested,
// dropping the first bucket (always partial: the window edge rarely
// lands on an interval boundary) and the second-to-last bucket (the
// most recent complete interval is the last one that has fully
// elapsed), then shifting timestamps forward by one interval so the
// remaining buckets line up with the caller's original window.
type PartialIntervalRule struct{}

// NewPartialIntervalRule constructs the rule. It takes no
// configuration: every schema and measurement is eligible whenever the
// query shape matches.
func NewPartialIntervalRule() *PartialIntervalRule { return &PartialIntervalRule{} }

func (r *PartialIntervalRule) Name() string { return "remove_partial_intervals_case_sum_group_by_time" }

func (r *PartialIntervalRule) Description() string {
	return "drops the partial first and last-but-one buckets of a sum(...) GROUP BY time() query"
}

func (r *PartialIntervalRule) Check(_ string, pq *query.ParsedQuery) bool {
	if !pq.HasSumGroupByTime() {
		return false
	}
	_, ok := pq.LowerTimeBound()
	return ok
}

func (r *PartialIntervalRule) Action(ctx context.Context, exec Executor, schema string, pq *query.ParsedQuery) (tabular.Result, error) {
	ivStr, ok := pq.GroupByTimeInterval()
	if !ok {
		return tabular.Result{}, fmt.Errorf("rules: partial interval rule requires a GROUP BY time() interval")
	}
	iv, err := dateutil.ParseInterval(ivStr)
	if err != nil {
		return tabular.Result{}, fmt.Errorf("rules: partial interval rule: %w", err)
	}

	reworked := pq.Clone()
	reworked.ExtendLowerTimeBound(-2*iv.Number, iv.Unit)

	result, err := exec.Query(ctx, schema, reworked.String())
	if err != nil {
		return tabular.Result{}, err
	}

	shiftNanos := iv.Nanos()
	for si, st := range result.Statements {
		for ki, s := range st.Series {
			s.Rows = dropAllNaNRows(s)
			if len(s.Rows) > 2 {
				s.Rows = dropRows(s.Rows, 0, len(s.Rows)-2)
			}
			for ri := range s.Rows {
				if ts, ok := s.Rows[ri][0].(int64); ok {
					s.Rows[ri][0] = ts + shiftNanos
				}
			}
			result.Statements[si].Series[ki] = s
		}
	}
	return result, nil
}

// dropAllNaNRows removes rows whose non-time columns are all NaN, the
// all-null tail a query window extending into the future produces.
func dropAllNaNRows(s tabular.Series) [][]any {
	out := s.Rows[:0:0]
	for _, row := range s.Rows {
		allNaN := true
		for i := 1; i < len(row); i++ {
			if f, ok := row[i].(float64); !ok || !math.IsNaN(f) {
				allNaN = false
				break
			}
		}
		if !allNaN {
			out = append(out, row)
		}
	}
	return out
}

// dropRows removes the rows at the given indices (must be sorted
// ascending, each valid), returning a new slice.
func dropRows(rows [][]any, indices ...int) [][]any {
	drop := map[int]bool{}
	for _, i := range indices {
		drop[i] = true
	}
	out := make([][]any, 0, len(rows))
	for i, row := range rows {
		if !drop[i] {
			out = append(out, row)
		}
	}
	return out
}
