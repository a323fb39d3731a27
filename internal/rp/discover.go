package rp

import (
	"context"
	"fmt"

	"github.com/transatel/cleanflux/internal/dateutil"
	"github.com/transatel/cleanflux/internal/tabular"
)

// Executor is the narrow subset of the backend client the catalog
// discovery process needs: the ability to run a raw query against a
// schema and get back a tabular result. internal/backend.Client
// satisfies this.
type Executor interface {
	Query(ctx context.Context, schema, rawQuery string) (tabular.Result, error)
}

// DiscoverCatalog rebuilds the full catalog across every schema the
// backend reports via SHOW DATABASES, by calling Discover once per
// schema. A schema whose discovery fails is logged by the caller and
// simply omitted, so one misbehaving database does not block startup
// for the rest.
func DiscoverCatalog(ctx context.Context, exec Executor) (Catalog, []error) {
	dbResult, err := exec.Query(ctx, "", "SHOW DATABASES")
	if err != nil {
		return nil, []error{fmt.Errorf("rp: discover databases: %w", err)}
	}

	var schemas []string
	for _, st := range dbResult.Statements {
		for _, s := range st.Series {
			nameIdx := s.ColumnIndex("name")
			if nameIdx < 0 {
				nameIdx = 0
			}
			for _, row := range s.Rows {
				if name, ok := row[nameIdx].(string); ok && name != "" {
					schemas = append(schemas, name)
				}
			}
		}
	}

	catalog := Catalog{}
	var errs []error
	for _, schema := range schemas {
		rps, err := Discover(ctx, exec, schema)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		catalog[schema] = rps
	}
	return catalog, errs
}

// Discover rebuilds the retention-policy catalog for a schema by
// querying SHOW RETENTION POLICIES and SHOW CONTINUOUS QUERIES and
// joining them on the retention policy a continuous query's INTO clause
// writes to, so each RP knows the interval at which its feeding CQ
// aggregates. A retention policy with no matching CQ is left with
// IntervalNanos 0 (raw resolution).
func Discover(ctx context.Context, exec Executor, schema string) ([]RetentionPolicy, error) {
	rpResult, err := exec.Query(ctx, schema, "SHOW RETENTION POLICIES")
	if err != nil {
		return nil, fmt.Errorf("rp: discover retention policies for %s: %w", schema, err)
	}
	rps, err := parseRetentionPolicies(rpResult, schema)
	if err != nil {
		return nil, err
	}

	cqResult, err := exec.Query(ctx, schema, "SHOW CONTINUOUS QUERIES")
	if err != nil {
		return nil, fmt.Errorf("rp: discover continuous queries for %s: %w", schema, err)
	}
	intervals, err := parseContinuousQueryIntervals(cqResult)
	if err != nil {
		return nil, err
	}

	for i := range rps {
		// At most one CQ interval applies per RP: the first CQ found
		// writing into this RP wins.
		if iv, ok := intervals[rps[i].Name]; ok {
			rps[i].IntervalNanos = iv
		}
	}
	return rps, nil
}

func parseRetentionPolicies(res tabular.Result, schema string) ([]RetentionPolicy, error) {
	var out []RetentionPolicy
	for _, st := range res.Statements {
		for _, s := range st.Series {
			nameIdx := s.ColumnIndex("name")
			durIdx := s.ColumnIndex("duration")
			defaultIdx := s.ColumnIndex("default")
			for _, row := range s.Rows {
				rp := RetentionPolicy{Schema: schema}
				if nameIdx >= 0 {
					rp.Name, _ = row[nameIdx].(string)
				}
				if durIdx >= 0 {
					if durStr, ok := row[durIdx].(string); ok {
						ns, err := dateutil.ParseRPDuration(durStr)
						if err != nil {
							return nil, fmt.Errorf("rp: parse duration for %s.%s: %w", schema, rp.Name, err)
						}
						rp.DurationNanos = ns
					}
				}
				if defaultIdx >= 0 {
					rp.Default, _ = row[defaultIdx].(bool)
				}
				out = append(out, rp)
			}
		}
	}
	return out, nil
}

// parseContinuousQueryIntervals extracts, for each continuous query
// returned by SHOW CONTINUOUS QUERIES, the retention policy name its
// INTO clause targets and the GROUP BY time() interval it aggregates
// at, by matching the CQ's own query text with parseCQIntoAndInterval.
func parseContinuousQueryIntervals(res tabular.Result) (map[string]int64, error) {
	out := map[string]int64{}
	for _, st := range res.Statements {
		for _, s := range st.Series {
			queryIdx := s.ColumnIndex("query")
			if queryIdx < 0 {
				continue
			}
			for _, row := range s.Rows {
				cqText, _ := row[queryIdx].(string)
				rpName, intervalNanos, ok := parseCQIntoAndInterval(cqText)
				if _, seen := out[rpName]; ok && !seen {
					out[rpName] = intervalNanos
				}
			}
		}
	}
	return out, nil
}
