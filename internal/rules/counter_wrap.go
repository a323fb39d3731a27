package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/transatel/cleanflux/internal/dateutil"
	"github.com/transatel/cleanflux/internal/query"
	"github.com/transatel/cleanflux/internal/tabular"
)

// SchemaMeasurement identifies a (schema, measurement) pair a counter
// overflow modulus applies to.
type SchemaMeasurement struct {
	Schema      string
	Measurement string
}

// CounterWrapRule corrects non_negative_derivative(...) columns over a
// counter that wraps at a known modulus (e.g. a 32-bit interface
// byte counter). InfluxQL's own non_negative_derivative clamps any
// negative step to zero, which silently discards the real rate at
// every wraparound; this rule instead fetches the raw counter values,
// unwraps them by adding back the overflow modulus whenever the
// counter appears to have gone backward, and computes the derivative
// itself from the unwrapped series.
type CounterWrapRule struct {
	overflows map[SchemaMeasurement]int64
}

// NewCounterWrapRule constructs the rule with the configured overflow
// modulus per (schema, measurement).
func NewCounterWrapRule(overflows map[SchemaMeasurement]int64) *CounterWrapRule {
	return &CounterWrapRule{overflows: overflows}
}

func (r *CounterWrapRule) Name() string { return "handle_counter_wrap_non_negative_derivative" }

func (r *CounterWrapRule) Description() string {
	return "unwraps a modulus-wrapping counter before computing non_negative_derivative"
}

func (r *CounterWrapRule) Check(schema string, pq *query.ParsedQuery) bool {
	if len(pq.NonNegativeDerivativeColumns()) == 0 {
		return false
	}
	if _, ok := pq.LowerTimeBound(); !ok {
		return false
	}
	from, ok := pq.From()
	if !ok {
		return false
	}
	_, has := r.overflows[SchemaMeasurement{Schema: schema, Measurement: from.Measurement}]
	return has
}

func (r *CounterWrapRule) Action(ctx context.Context, exec Executor, schema string, pq *query.ParsedQuery) (tabular.Result, error) {
	from, ok := pq.From()
	if !ok {
		return tabular.Result{}, fmt.Errorf("rules: counter wrap rule requires a FROM clause")
	}
	overflow, ok := r.overflows[SchemaMeasurement{Schema: schema, Measurement: from.Measurement}]
	if !ok || overflow <= 0 {
		return tabular.Result{}, fmt.Errorf("rules: no counter overflow configured for %s.%s", schema, from.Measurement)
	}

	nndCols := pq.NonNegativeDerivativeColumns()
	outNames := make([]string, len(nndCols))
	intervalsNanos := make([]int64, len(nndCols))
	forced := map[int]string{}

	// Each stripped column keeps the name the client would have seen
	// from the backend: its explicit AS alias, or the backend's
	// generated non_negative_derivative name, suffixed with the
	// positional index for every occurrence after the first. The
	// rewritten query aliases the bare inner expression to that name so
	// the response columns line up without a separate rename pass.
	colIdx := 0
	for i, c := range pq.Columns() {
		if c.Func != "non_negative_derivative" {
			continue
		}
		name := strings.Trim(c.Alias, `"`)
		if name == "" {
			if colIdx == 0 {
				name = "non_negative_derivative"
			} else {
				name = fmt.Sprintf("non_negative_derivative_%d", colIdx)
			}
		}
		forced[i] = name
		outNames[colIdx] = name
		intervalsNanos[colIdx] = defaultDerivativeIntervalNanos
		if len(c.Args) > 1 {
			if iv, err := dateutil.ParseInterval(strings.TrimSpace(c.Args[1])); err == nil {
				intervalsNanos[colIdx] = iv.Nanos()
			}
		}
		colIdx++
	}

	groupIv, hasGroupBy := pq.GroupByTimeInterval()

	reworked := pq.Clone()
	reworked.RemoveNonNegativeDerivative(forced)
	if hasGroupBy {
		if parsed, err := dateutil.ParseInterval(groupIv); err == nil {
			reworked.ExtendLowerTimeBound(-2*parsed.Number, parsed.Unit)
		}
	}

	result, err := exec.Query(ctx, schema, reworked.String())
	if err != nil {
		return tabular.Result{}, err
	}

	for si, st := range result.Statements {
		for ki, s := range st.Series {
			result.Statements[si].Series[ki] = correctSeries(s, outNames, intervalsNanos, overflow)
		}
	}
	return result, nil
}

// defaultDerivativeIntervalNanos is the rate unit InfluxQL's
// non_negative_derivative assumes when no explicit interval argument
// is given: one second.
const defaultDerivativeIntervalNanos = int64(1_000_000_000)

// correctSeries unwraps each configured counter column (one
// prevSanitized tracker per column, not a single tracker
// shared across columns) and then overwrites it with a manually
// computed non-negative derivative, dropping the first row since it
// has no predecessor to difference against.
func correctSeries(s tabular.Series, outNames []string, intervalsNanos []int64, overflow int64) tabular.Series {
	timeIdx := s.ColumnIndex("time")
	colIdxs := make([]int, len(outNames))
	for i, name := range outNames {
		colIdxs[i] = s.ColumnIndex(name)
	}

	// Pass 1: unwrap each column, tracking the previous *sanitized*
	// value rather than the previous raw sample. Once a wrap has been
	// corrected, every later raw sample reads as "less than" the
	// sanitized previous value (the sanitized value has already jumped
	// past one modulus), so comparing against prev rather than the raw
	// reading is what makes the shift formula keep recovering the true
	// delta across repeated wraps instead of firing only once.
	prevSanitized := make([]float64, len(outNames))
	have := make([]bool, len(outNames))
	for _, row := range s.Rows {
		for ci, idx := range colIdxs {
			if idx < 0 {
				continue
			}
			v, ok := row[idx].(float64)
			if !ok || isNaNF(v) {
				continue
			}
			if !have[ci] {
				prevSanitized[ci] = v
				have[ci] = true
				continue
			}
			diff := v - prevSanitized[ci]
			if diff < 0 {
				shift := float64(overflow) - absF(diff)
				// Bounded to two corrections: a third still-negative
				// shift after two full moduli means the raw reading
				// skipped more than one wraparound between samples, which
				// this rule treats as a data error rather than looping.
				for i := 0; shift <= 0 && i < 2; i++ {
					shift += float64(overflow)
				}
				v = prevSanitized[ci] + shift
				row[idx] = v
			}
			prevSanitized[ci] = v
		}
	}

	// Pass 2: compute the derivative from the now-monotonic series. One
	// prevValue/prevIndex pair per column, not a single tracker shared
	// across every non_negative_derivative column in the query.
	prevValue := make([]float64, len(outNames))
	prevIndexNanos := make([]int64, len(outNames))
	haveDeriv := make([]bool, len(outNames))
	for _, row := range s.Rows {
		var tsNanos int64
		if timeIdx >= 0 {
			tsNanos, _ = row[timeIdx].(int64)
		}
		for ci, idx := range colIdxs {
			if idx < 0 {
				continue
			}
			v, ok := row[idx].(float64)
			if !ok || isNaNF(v) {
				continue
			}
			if !haveDeriv[ci] {
				row[idx] = 0.0
				prevValue[ci] = v
				prevIndexNanos[ci] = tsNanos
				haveDeriv[ci] = true
				continue
			}
			timeDiffNanos := tsNanos - prevIndexNanos[ci]
			rate := 0.0
			if timeDiffNanos != 0 {
				rate = (v - prevValue[ci]) * float64(intervalsNanos[ci]) / float64(timeDiffNanos)
			}
			if rate < 0 {
				rate = 0
			}
			row[idx] = rate
			prevValue[ci] = v
			prevIndexNanos[ci] = tsNanos
		}
	}

	if len(s.Rows) > 0 {
		s.Rows = s.Rows[1:]
	}
	return s
}

func isNaNF(f float64) bool { return f != f }

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
