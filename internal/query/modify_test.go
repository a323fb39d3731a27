package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeRP(t *testing.T) {
	p := Parse(`SELECT value FROM "telegraf"."rp_5m"."cpu" WHERE time >= now() - 1h`)
	p.ChangeRP("rp_1h")
	from, ok := p.From()
	require.True(t, ok)
	assert.Equal(t, "rp_1h", from.RP)
	assert.Contains(t, p.String(), `"telegraf"."rp_1h"."cpu"`)
}

func TestChangeGroupByTimeInterval(t *testing.T) {
	p := Parse(`SELECT sum(value) FROM cpu WHERE time >= now() - 1h GROUP BY time(5m)`)
	ok := p.ChangeGroupByTimeInterval("1h")
	require.True(t, ok)
	iv, ok := p.GroupByTimeInterval()
	require.True(t, ok)
	assert.Equal(t, "1h", iv)
}

func TestChangeSumGroupByTimeFactor(t *testing.T) {
	p := Parse(`SELECT sum(value) FROM cpu WHERE time >= now() - 1h GROUP BY time(5m)`)
	ok := p.ChangeSumGroupByTimeFactor(1, 12)
	require.True(t, ok)
	assert.Contains(t, p.String(), "sum(value) * (1 / 12)")
}

func TestAddLimit(t *testing.T) {
	p := Parse(`SELECT value FROM cpu`)
	p.AddLimit(1)
	assert.Contains(t, p.String(), "LIMIT 1")
}

func TestExtendLowerTimeBound(t *testing.T) {
	p := Parse(`SELECT value FROM cpu WHERE time >= now() - 1h`)
	ok := p.ExtendLowerTimeBound(-2, "h")
	require.True(t, ok)
	assert.Contains(t, p.String(), "now() - 1h - 2h")
}

func TestRemoveNonNegativeDerivative(t *testing.T) {
	p := Parse(`SELECT non_negative_derivative(counter, 10s) FROM cpu`)
	ok := p.RemoveNonNegativeDerivative(nil)
	require.True(t, ok)
	assert.Contains(t, p.String(), "counter")
	assert.NotContains(t, p.String(), "non_negative_derivative")
}

func TestRemoveNonNegativeDerivativeForcedName(t *testing.T) {
	p := Parse(`SELECT non_negative_derivative(counter, 10s) FROM cpu`)
	ok := p.RemoveNonNegativeDerivative(map[int]string{0: "counter_raw"})
	require.True(t, ok)
	assert.Contains(t, p.String(), "AS counter_raw")
}
