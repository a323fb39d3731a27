package rp

import "time"

// Selection is the outcome of auto-selecting a retention policy for a
// query's time window: which RP to query, and — if the query also
// grouped by time() at a finer granularity than that RP's continuous
// query writes at — the coarser GROUP BY interval the rewritten query
// must use instead, plus the rate-preservation factor to apply to any
// sum(...) columns.
type Selection struct {
	RP                 RetentionPolicy
	NewGroupByInterval  int64 // nanoseconds; 0 if GROUP BY time() is unchanged
	SumFactorOldPoints  int64
	SumFactorNewPoints  int64
	FactorApplies       bool
}

// marginNanos is the evaluation-drift margin subtracted from an RP's
// retention window before comparing it against a query's lower time
// bound, so a query issued a moment after an RP's oldest sample aged
// out is not spuriously rejected.
const marginNanos = int64(time.Second)

// isGoodFor reports whether rp retains data back to lowerBound, as
// observed at now, within the margin.
func isGoodFor(rp RetentionPolicy, lowerBound, now time.Time) bool {
	if rp.DurationNanos == 0 {
		return true
	}
	rpMaxDatetime := now.Add(-time.Duration(rp.DurationNanos))
	return !rpMaxDatetime.Add(-time.Duration(marginNanos)).After(lowerBound)
}

// SelectRP picks the best-fit retention policy for a query against
// schema whose resolved lower time bound is lowerBound, evaluated at
// now. It first tries the schema's default RP, then falls back to a
// declaration-order scan of the rest of the catalog, returning the
// first RP that retains enough history. If no RP qualifies, the
// last declared RP is returned so the query still executes, just
// potentially against data that has already aged out.
func SelectRP(catalog Catalog, schema string, lowerBound, now time.Time) (RetentionPolicy, bool) {
	rps := catalog[schema]
	if len(rps) == 0 {
		return RetentionPolicy{}, false
	}

	if def, ok := catalog.DefaultRP(schema); ok && isGoodFor(def, lowerBound, now) {
		return def, true
	}

	for _, candidate := range rps {
		if isGoodFor(candidate, lowerBound, now) {
			return candidate, true
		}
	}

	return rps[len(rps)-1], true
}

// AdjustGroupByInterval compares the query's requested GROUP BY
// time() interval against the chosen RP's continuous-query interval.
// If the RP only has data pre-aggregated at a coarser interval than
// requested, the query must be rewritten to group by that coarser
// interval instead, and any sum(...) column needs rescaling to keep
// representing the same rate. FactorApplies is false when no
// adjustment is needed (the RP is raw-resolution, or its interval
// already matches the request).
func AdjustGroupByInterval(chosen RetentionPolicy, requestedIntervalNanos int64) Selection {
	sel := Selection{RP: chosen}
	if chosen.IntervalNanos == 0 || chosen.IntervalNanos == requestedIntervalNanos {
		return sel
	}
	if chosen.IntervalNanos < requestedIntervalNanos {
		// The RP is already finer than requested; no rewrite needed,
		// the backend can still bucket at the coarser requested size.
		return sel
	}
	sel.NewGroupByInterval = chosen.IntervalNanos
	sel.FactorApplies = true
	sel.SumFactorOldPoints = requestedIntervalNanos
	sel.SumFactorNewPoints = chosen.IntervalNanos
	return sel
}
