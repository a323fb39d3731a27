// Package rp implements the retention-policy catalog and the
// auto-selector that picks the best-fit retention policy (and the
// GROUP BY time() interval adjustment that follows from it) for a
// given query's time window.
package rp

import "go.uber.org/atomic"

// RetentionPolicy describes one retention policy of one schema, with
// the GROUP BY time() interval of the continuous query that feeds it,
// if any was discovered.
type RetentionPolicy struct {
	Name     string
	Schema   string
	Default  bool
	// DurationNanos is the retention duration in nanoseconds; 0 means
	// infinite retention (InfluxDB's "0s").
	DurationNanos int64
	// IntervalNanos is the GROUP BY time() interval of the continuous
	// query that populates this RP, if the catalog discovered a
	// binding CQ for it. 0 means no known interval (a raw-resolution
	// RP has no CQ).
	IntervalNanos int64
}

// Catalog maps a schema name to its retention policies, in the order
// the backend declared them — the auto-selector's fallback scan
// depends on declaration order, not name.
type Catalog map[string][]RetentionPolicy

// DefaultRP returns the retention policy marked default for a schema.
func (c Catalog) DefaultRP(schema string) (RetentionPolicy, bool) {
	for _, p := range c[schema] {
		if p.Default {
			return p, true
		}
	}
	return RetentionPolicy{}, false
}

// SafeCatalog holds a Catalog behind an atomic pointer so a background
// refresh can swap in a freshly discovered catalog without a lock: the
// query-handling goroutines that read it never block on, or observe a
// half-updated view of, a refresh in progress.
type SafeCatalog struct {
	ptr atomic.Pointer[Catalog]
}

// NewSafeCatalog wraps an initial catalog for concurrent access.
func NewSafeCatalog(initial Catalog) *SafeCatalog {
	sc := &SafeCatalog{}
	sc.ptr.Store(&initial)
	return sc
}

// Load returns the current catalog snapshot.
func (sc *SafeCatalog) Load() Catalog {
	if c := sc.ptr.Load(); c != nil {
		return *c
	}
	return nil
}

// Store atomically replaces the catalog, e.g. after a periodic
// rediscovery against the backend.
func (sc *SafeCatalog) Store(c Catalog) {
	sc.ptr.Store(&c)
}
