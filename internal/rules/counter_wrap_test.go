package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transatel/cleanflux/internal/tabular"
)

func TestCounterWrapRuleCheckRequiresOverflowConfig(t *testing.T) {
	pq := Parse(t, `SELECT non_negative_derivative(counter, 1m) FROM if_bytes WHERE time >= now() - 1h GROUP BY time(1m)`)

	noOverflow := NewCounterWrapRule(nil)
	assert.False(t, noOverflow.Check("telegraf", pq))

	withOverflow := NewCounterWrapRule(map[SchemaMeasurement]int64{
		{Schema: "telegraf", Measurement: "if_bytes"}: 1 << 32,
	})
	assert.True(t, withOverflow.Check("telegraf", pq))
}

func TestCounterWrapRuleCheckRequiresNNDColumn(t *testing.T) {
	pq := Parse(t, `SELECT value FROM if_bytes WHERE time >= now() - 1h`)
	r := NewCounterWrapRule(map[SchemaMeasurement]int64{
		{Schema: "telegraf", Measurement: "if_bytes"}: 1 << 32,
	})
	assert.False(t, r.Check("telegraf", pq))
}

func TestCounterWrapRuleActionUnwrapsAndDifferentiates(t *testing.T) {
	const overflow = int64(1) << 32
	r := NewCounterWrapRule(map[SchemaMeasurement]int64{
		{Schema: "telegraf", Measurement: "if_bytes"}: overflow,
	})
	pq := Parse(t, `SELECT non_negative_derivative(counter, 1s) FROM if_bytes WHERE time >= now() - 1h GROUP BY time(1m)`)
	require.True(t, r.Check("telegraf", pq))

	// Samples [10, 20, 5, 15] one minute apart; the third sample wraps
	// (5 < 20).
	minute := int64(60 * 1e9)
	exec := &fakeExecutor{result: tabular.Result{Statements: []tabular.Statement{
		{Series: []tabular.Series{{
			Key: tabular.SeriesKey{Measurement: "if_bytes"},
			// The rewritten query aliases the bare counter expression
			// to the name clients expect from the stripped call.
			Columns: []string{"time", "non_negative_derivative"},
			Rows: [][]any{
				{int64(0), 10.0},
				{minute, 20.0},
				{2 * minute, 5.0},
				{3 * minute, 15.0},
			},
		}}},
	}}}

	result, err := r.Action(context.Background(), exec, "telegraf", pq)
	require.NoError(t, err)
	require.Len(t, result.Statements, 1)
	require.Len(t, result.Statements[0].Series, 1)

	s := result.Statements[0].Series[0]
	// The first row is dropped: it has no predecessor to differentiate
	// against.
	require.Len(t, s.Rows, 3)

	colIdx := s.ColumnIndex("non_negative_derivative")
	require.GreaterOrEqual(t, colIdx, 0)

	// Unwrapped counters: [10, 20, 4294967296+5, 4294967296+15]. With a
	// 1s derivative interval over 60s spacing, the per-second rates
	// after dropping row 0 are 10/60, (overflow-15)/60 and 10/60.
	assert.InDelta(t, 10.0/60.0, s.Rows[0][colIdx].(float64), 1e-9)
	assert.InDelta(t, (float64(overflow)-15.0)/60.0, s.Rows[1][colIdx].(float64), 1e-3)
	assert.InDelta(t, 10.0/60.0, s.Rows[2][colIdx].(float64), 1e-9)

	// The rewritten query must have stripped the non_negative_derivative
	// call (keeping the name as an alias) and extended the lower bound
	// by 2 GROUP BY intervals (2m).
	assert.Contains(t, exec.lastQuery, "now() - 1h - 2m")
	assert.NotContains(t, exec.lastQuery, "non_negative_derivative(")
	assert.Contains(t, exec.lastQuery, "counter AS non_negative_derivative")
}
