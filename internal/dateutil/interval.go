// Package dateutil implements the interval and retention-policy-duration
// arithmetic that the corrective rules and the retention-policy
// auto-selector depend on.
package dateutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Interval is a signed count of a single InfluxQL-style time unit, e.g.
// "5m" or "-2w". Units are never mixed: InfluxQL group-by and duration
// literals are always a single number/unit pair.
type Interval struct {
	Number int64
	Unit   string
}

// unitNanos gives the length of one unit in nanoseconds. "w" is seven
// days, matching the documented interval semantics; the calendar month
// and year units are not supported since InfluxQL itself does not
// accept them in GROUP BY time() or duration literals.
var unitNanos = map[string]int64{
	"ns": 1,
	"u":  1e3,
	"µ":  1e3,
	"ms": 1e6,
	"s":  1e9,
	"m":  60 * 1e9,
	"h":  60 * 60 * 1e9,
	"d":  24 * 60 * 60 * 1e9,
	"w":  7 * 24 * 60 * 60 * 1e9,
}

var intervalRe = regexp.MustCompile(`^(-?\d+)(ns|µ|u|ms|s|m|h|d|w)$`)

// ParseInterval parses an InfluxQL duration literal such as "10m" or
// "-500ms" into an Interval.
func ParseInterval(s string) (Interval, error) {
	m := intervalRe.FindStringSubmatch(s)
	if m == nil {
		return Interval{}, fmt.Errorf("dateutil: %q is not a valid interval literal", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Interval{}, fmt.Errorf("dateutil: %q is not a valid interval literal: %w", s, err)
	}
	return Interval{Number: n, Unit: m[2]}, nil
}

// Nanos returns the interval's length in nanoseconds.
func (iv Interval) Nanos() int64 {
	return iv.Number * unitNanos[iv.Unit]
}

// String renders the interval back to InfluxQL literal form.
func (iv Interval) String() string {
	return fmt.Sprintf("%d%s", iv.Number, iv.Unit)
}

// Scale returns a new interval of the same unit with its count
// multiplied by factor.
func (iv Interval) Scale(factor int64) Interval {
	return Interval{Number: iv.Number * factor, Unit: iv.Unit}
}

// Negate returns the interval with its sign flipped, used when
// extending a lower time bound backward.
func (iv Interval) Negate() Interval {
	return Interval{Number: -iv.Number, Unit: iv.Unit}
}

// ToDuration converts the interval to a time.Duration, for composing
// with an absolute time.Time (e.g. extending a lower time bound by a
// wall-clock amount). Nanosecond-unit intervals are rejected; callers
// working at that resolution must stay in Nanos() arithmetic.
func (iv Interval) ToDuration() (time.Duration, error) {
	if iv.Unit == "ns" {
		return 0, fmt.Errorf("dateutil: %q cannot be converted to a time.Duration", iv.String())
	}
	return time.Duration(iv.Nanos()), nil
}

// rpDurationRe matches an InfluxDB retention-policy duration string,
// e.g. "4h30m0s" or "168h0m0s", as returned by SHOW RETENTION POLICIES.
var rpDurationRe = regexp.MustCompile(`(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?`)

// ParseRPDuration parses the composite h/m/s duration string InfluxDB
// reports for a retention policy into nanoseconds. A duration of "0s"
// (infinite retention) returns 0, matching the sentinel the catalog
// uses for "no expiry".
func ParseRPDuration(s string) (int64, error) {
	m := rpDurationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, fmt.Errorf("dateutil: %q is not a valid retention policy duration", s)
	}
	var total int64
	if m[1] != "" {
		h, _ := strconv.ParseInt(m[1], 10, 64)
		total += h * unitNanos["h"]
	}
	if m[2] != "" {
		mi, _ := strconv.ParseInt(m[2], 10, 64)
		total += mi * unitNanos["m"]
	}
	if m[3] != "" {
		s, _ := strconv.ParseInt(m[3], 10, 64)
		total += s * unitNanos["s"]
	}
	return total, nil
}

// precisionFactor maps the client-requested epoch precision (the
// "epoch" query parameter) to the number of nanoseconds in one unit of
// that precision. An empty precision means RFC3339 text timestamps,
// which the re-serializer handles separately.
var precisionFactor = map[string]int64{
	"ns": 1,
	"u":  1e3,
	"µ":  1e3,
	"ms": 1e6,
	"s":  1e9,
	"m":  60 * 1e9,
	"h":  60 * 60 * 1e9,
}

// DowncastTimestamp converts a nanosecond timestamp to the integer
// representation for the given epoch precision. An unrecognised or
// empty precision reports ok=false and no converted value (RFC3339
// string formatting is the caller's responsibility in that case).
func DowncastTimestamp(ns int64, precision string) (int64, bool) {
	factor, ok := precisionFactor[precision]
	if !ok {
		return 0, false
	}
	return ns / factor, true
}
