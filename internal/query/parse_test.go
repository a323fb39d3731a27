package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSelect(t *testing.T) {
	assert.True(t, IsSelect("SELECT * FROM cpu"))
	assert.True(t, IsSelect("  select value from \"mem\""))
	assert.False(t, IsSelect("SHOW RETENTION POLICIES ON db"))
	assert.False(t, IsSelect("INSERT INTO cpu VALUES (1)"))
}

func TestParseRoundTrip(t *testing.T) {
	q := `SELECT sum(value) FROM "telegraf"."rp_5m"."cpu" WHERE time >= now() - 1h GROUP BY time(1m)`
	p := Parse(q)
	assert.Equal(t, q, p.String())
}

func TestParseFrom(t *testing.T) {
	p := Parse(`SELECT value FROM "telegraf"."rp_5m"."cpu" WHERE time >= now() - 1h`)
	from, ok := p.From()
	require.True(t, ok)
	assert.Equal(t, MeasurementPath{Schema: "telegraf", RP: "rp_5m", Measurement: "cpu"}, from)
}

func TestParseMeasurementPathBare(t *testing.T) {
	assert.Equal(t, MeasurementPath{Measurement: "cpu"}, ParseMeasurementPath("cpu"))
	assert.Equal(t, MeasurementPath{RP: "rp_5m", Measurement: "cpu"}, ParseMeasurementPath(`"rp_5m"."cpu"`))
}

func TestGroupByTimeInterval(t *testing.T) {
	p := Parse(`SELECT sum(value) FROM cpu WHERE time >= now() - 1h GROUP BY time(5m), host`)
	iv, ok := p.GroupByTimeInterval()
	require.True(t, ok)
	assert.Equal(t, "5m", iv)
}

func TestHasSumGroupByTime(t *testing.T) {
	p := Parse(`SELECT sum(value) FROM cpu WHERE time >= now() - 1h GROUP BY time(5m)`)
	assert.True(t, p.HasSumGroupByTime())

	p2 := Parse(`SELECT mean(value) FROM cpu WHERE time >= now() - 1h GROUP BY time(5m)`)
	assert.False(t, p2.HasSumGroupByTime())
}

func TestNonNegativeDerivativeColumns(t *testing.T) {
	p := Parse(`SELECT non_negative_derivative(counter, 10s) FROM cpu WHERE time >= now() - 1h`)
	cols := p.NonNegativeDerivativeColumns()
	require.Len(t, cols, 1)
	assert.Equal(t, "non_negative_derivative", cols[0].Func)
}

func TestLowerTimeBound(t *testing.T) {
	p := Parse(`SELECT value FROM cpu WHERE time >= now() - 2h`)
	b, ok := p.LowerTimeBound()
	require.True(t, ok)
	assert.Equal(t, "now() - 2h", b)
}
