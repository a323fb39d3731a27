// Package limiter bounds the number of points a rewritten query can
// return by coarsening its GROUP BY time() interval when the expected
// point count would exceed a configured budget.
package limiter

import "github.com/transatel/cleanflux/internal/dateutil"

// ExpectedPointsForQuery estimates how many points a query spanning
// windowNanos and grouped at intervalNanos would return in total,
// across every series the query would touch.
func ExpectedPointsForQuery(windowNanos, intervalNanos int64, numSeries int64) int64 {
	if intervalNanos <= 0 {
		return 0
	}
	perSeries := windowNanos / intervalNanos
	if numSeries <= 0 {
		numSeries = 1
	}
	return perSeries * numSeries
}

// ExpectedPointsPerSeries estimates how many points a single series
// would contribute.
func ExpectedPointsPerSeries(windowNanos, intervalNanos int64) int64 {
	if intervalNanos <= 0 {
		return 0
	}
	return windowNanos / intervalNanos
}

// Factor computes how much the GROUP BY interval must be multiplied by
// to bring expectedPoints within budget. Ceiling division, so the
// post-rewrite point count never lands over budget on an exact
// boundary.
func Factor(expectedPoints, budget int64) int64 {
	if budget <= 0 || expectedPoints <= budget {
		return 1
	}
	f := (expectedPoints + budget - 1) / budget
	if f < 1 {
		f = 1
	}
	return f
}

// Apply scales an interval's number by factor, leaving its unit
// unchanged, and reports whether any scaling was necessary.
func Apply(current dateutil.Interval, factor int64) (dateutil.Interval, bool) {
	if factor <= 1 {
		return current, false
	}
	return current.Scale(factor), true
}

// LimitResult bundles the outcome of a per-query or per-series budget
// check.
type LimitResult struct {
	NewInterval dateutil.Interval
	Factor      int64
	Changed     bool
}

// LimitPerQuery applies the total-points-per-query budget. Per-query
// budget takes precedence over a per-series budget when both are
// configured; callers should only fall back to LimitPerSeries when
// the per-query budget is unset.
func LimitPerQuery(windowNanos int64, current dateutil.Interval, numSeries, budget int64) LimitResult {
	expected := ExpectedPointsForQuery(windowNanos, current.Nanos(), numSeries)
	f := Factor(expected, budget)
	newIv, changed := Apply(current, f)
	return LimitResult{NewInterval: newIv, Factor: f, Changed: changed}
}

// LimitPerSeries applies the points-per-series budget.
func LimitPerSeries(windowNanos int64, current dateutil.Interval, budget int64) LimitResult {
	expected := ExpectedPointsPerSeries(windowNanos, current.Nanos())
	f := Factor(expected, budget)
	newIv, changed := Apply(current, f)
	return LimitResult{NewInterval: newIv, Factor: f, Changed: changed}
}
