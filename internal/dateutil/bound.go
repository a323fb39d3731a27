package dateutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolveTimeBound converts a time-bound literal extracted by
// internal/query's LowerTimeBound/UpperTimeBound — "now()", "now() -
// 1h", a quoted RFC3339 literal, or a bare nanosecond epoch integer —
// into an absolute instant evaluated relative to now.
func ResolveTimeBound(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "now()") {
		rest := strings.TrimSpace(raw[len("now()"):])
		if rest == "" {
			return now, nil
		}
		sign := rest[0]
		if sign != '+' && sign != '-' {
			return time.Time{}, fmt.Errorf("dateutil: %q is not a valid now()-relative bound", raw)
		}
		iv, err := ParseInterval(strings.TrimSpace(rest[1:]))
		if err != nil {
			return time.Time{}, fmt.Errorf("dateutil: %q is not a valid now()-relative bound: %w", raw, err)
		}
		d := time.Duration(iv.Nanos())
		if sign == '-' {
			return now.Add(-d), nil
		}
		return now.Add(d), nil
	}

	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		t, err := time.Parse(time.RFC3339Nano, raw[1:len(raw)-1])
		if err != nil {
			return time.Time{}, fmt.Errorf("dateutil: %q is not a valid RFC3339 time literal: %w", raw, err)
		}
		return t, nil
	}

	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("dateutil: %q is not a recognised time bound", raw)
	}
	return time.Unix(0, ns).UTC(), nil
}
