package rp

import (
	"regexp"

	"github.com/transatel/cleanflux/internal/dateutil"
)

// intoRe extracts the retention-policy segment and the measurement
// segment of a continuous query's INTO target, e.g.
// INTO "telegraf"."rp_5m"."cpu" -> rp="rp_5m", measurement="cpu". A
// two-part INTO target has no explicit RP segment and therefore gives
// no RP-to-interval binding to record.
var intoRe = regexp.MustCompile(`(?i)into\s+"?[^".\s]+"?\."?([^".\s]+)"?\."?([^".\s]+)"?`)

// fromRe extracts the measurement segment of a continuous query's
// FROM clause, taking only the final dot-separated part so a
// schema-or-RP-qualified FROM still compares against INTO's bare
// measurement name.
var fromRe = regexp.MustCompile(`(?i)from\s+(?:"?[^".\s]+"?\.)*"?([^".\s]+)"?(?:\s|$)`)

var cqGroupByTimeRe = regexp.MustCompile(`(?i)group\s+by\s+time\(\s*(-?\d+)(ns|µ|u|ms|s|m|h|d|w)\s*\)`)

// parseCQIntoAndInterval extracts the target retention policy name and
// the GROUP BY time() interval, in nanoseconds, from one continuous
// query's definition text — but only if the CQ's INTO measurement
// equals its FROM measurement. A CQ that also renames the measurement
// (a "rename-CQ") gives no usable binding: there is no guarantee its
// interval describes normal downsampling of the same series, so it is
// skipped, matching the ContinuousQuery binding rule that only CQs
// preserving the measurement name enrich the catalog.
func parseCQIntoAndInterval(cqText string) (rpName string, intervalNanos int64, ok bool) {
	intoMatch := intoRe.FindStringSubmatch(cqText)
	if intoMatch == nil {
		return "", 0, false
	}
	rpName, intoMeasurement := intoMatch[1], intoMatch[2]

	fromMatch := fromRe.FindStringSubmatch(cqText)
	if fromMatch == nil || fromMatch[1] != intoMeasurement {
		return "", 0, false
	}

	g := cqGroupByTimeRe.FindStringSubmatch(cqText)
	if g == nil {
		return rpName, 0, true
	}
	iv, err := dateutil.ParseInterval(g[1] + g[2])
	if err != nil {
		return rpName, 0, true
	}
	return rpName, iv.Nanos(), true
}
