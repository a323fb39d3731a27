package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transatel/cleanflux/internal/rp"
	"github.com/transatel/cleanflux/internal/tabular"
)

type fakeExec struct {
	result tabular.Result
	err    error
}

func (f *fakeExec) Query(_ context.Context, _ string, _ string) (tabular.Result, error) {
	return f.result, f.err
}

func TestProcessNonSelectPassesThrough(t *testing.T) {
	p := New(Config{}, log.NewNopLogger())
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", "SHOW DATABASES")
	assert.False(t, out.Rewritten)
	assert.Nil(t, out.Statement)
	assert.Equal(t, "SHOW DATABASES", out.Text)
}

func TestProcessUnmodifiedSelectIsNotRewritten(t *testing.T) {
	p := New(Config{}, log.NewNopLogger())
	q := `SELECT value FROM cpu WHERE time >= now() - 1h`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.False(t, out.Rewritten)
	assert.Equal(t, q, out.Text)
}

func TestProcessDoesNotPanicWithoutCatalogOrLimits(t *testing.T) {
	p := New(Config{}, log.NewNopLogger())
	// A query the points limiter would try to act on, but with a nil
	// catalog/limits this should simply no-op rather than panic; this
	// test documents that Process never propagates a panic regardless.
	q := `SELECT sum(value) FROM cpu WHERE time >= now() - 24h GROUP BY time(1m)`
	require.NotPanics(t, func() {
		p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	})
}

func TestProcessAutoSelectsRetentionPolicy(t *testing.T) {
	catalog := rp.Catalog{"telegraf": {
		{Name: "autogen", Schema: "telegraf", Default: true, DurationNanos: int64(time.Hour), IntervalNanos: int64(10 * time.Second)},
		{Name: "rp_long", Schema: "telegraf", DurationNanos: int64(720 * time.Hour), IntervalNanos: int64(time.Hour)},
	}}
	aggs := rp.AggregationRules{"telegraf": {{Function: "mean"}}}
	p := New(Config{Catalog: rp.NewSafeCatalog(catalog), AggregationRules: aggs}, log.NewNopLogger())

	q := `SELECT mean(v) FROM "m" WHERE time >= now() - 24h GROUP BY time(10s)`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.True(t, out.Rewritten)
	assert.Contains(t, out.Text, `"rp_long"."m"`)
	assert.Contains(t, out.Text, "time(1h)")
	// The aggregation function is mean, so no rate-preserving factor
	// may be appended.
	assert.NotContains(t, out.Text, "*")
}

func TestProcessEmitsSumFactorOnIntervalUpgrade(t *testing.T) {
	catalog := rp.Catalog{"telegraf": {
		{Name: "autogen", Schema: "telegraf", Default: true, DurationNanos: int64(time.Hour), IntervalNanos: int64(10 * time.Second)},
		{Name: "rp_long", Schema: "telegraf", DurationNanos: int64(720 * time.Hour), IntervalNanos: int64(time.Hour)},
	}}
	aggs := rp.AggregationRules{"telegraf": {{Function: "sum"}}}
	p := New(Config{Catalog: rp.NewSafeCatalog(catalog), AggregationRules: aggs}, log.NewNopLogger())

	q := `SELECT sum(v) FROM "m" WHERE time >= now() - 24h GROUP BY time(10s)`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.True(t, out.Rewritten)
	assert.Contains(t, out.Text, "time(1h)")
	assert.Contains(t, out.Text, "sum(v) * (1 / 360)")
}

func TestProcessCoarsensGroupByToPointsBudget(t *testing.T) {
	p := New(Config{MaxPointsPerSeries: 1000}, log.NewNopLogger())

	q := `SELECT mean(v) FROM m WHERE time >= now() - 30d GROUP BY time(1m)`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.True(t, out.Rewritten)
	// 30 days at 1m is 43200 expected points; ceil(43200/1000) = 44.
	assert.Contains(t, out.Text, "time(44m)")
}

func TestProcessLeavesQueryAloneWhenDefaultRPGoodEnough(t *testing.T) {
	catalog := rp.Catalog{"telegraf": {
		{Name: "autogen", Schema: "telegraf", Default: true, DurationNanos: int64(24 * time.Hour), IntervalNanos: int64(10 * time.Second)},
		{Name: "rp_long", Schema: "telegraf", DurationNanos: int64(720 * time.Hour), IntervalNanos: int64(time.Hour)},
	}}
	p := New(Config{Catalog: rp.NewSafeCatalog(catalog)}, log.NewNopLogger())

	q := `SELECT mean(v) FROM "m" WHERE time >= now() - 30m GROUP BY time(10s)`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.False(t, out.Rewritten)
	assert.Equal(t, q, out.Text)
}

func TestProcessSkipsAutoSelectWhenRPPinned(t *testing.T) {
	catalog := rp.Catalog{"telegraf": {
		{Name: "autogen", Schema: "telegraf", Default: true, DurationNanos: int64(time.Hour)},
		{Name: "rp_long", Schema: "telegraf", DurationNanos: int64(720 * time.Hour)},
	}}
	p := New(Config{Catalog: rp.NewSafeCatalog(catalog)}, log.NewNopLogger())

	q := `SELECT mean(v) FROM "telegraf"."autogen"."m" WHERE time >= now() - 24h GROUP BY time(10s)`
	out := p.Process(context.Background(), &fakeExec{}, "telegraf", q)
	assert.False(t, out.Rewritten)
	assert.Equal(t, q, out.Text)
}
