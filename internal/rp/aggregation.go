package rp

import "regexp"

// AggregationRule associates a measurement-name pattern with the
// aggregation function its continuous queries use to populate a
// downsampled retention policy. A nil Regexp marks the schema's
// "default" bucket, consulted only after every pattern rule misses.
type AggregationRule struct {
	Regexp   *regexp.Regexp
	Function string
}

// AggregationRules holds the per-schema ordered list of aggregation
// rules the auto-selector consults to decide whether a GROUP BY time()
// rewrite needs a rate-preserving SUM factor: that factor only applies
// when the measurement's configured aggregation function is "sum",
// never "mean" or any other function.
type AggregationRules map[string][]AggregationRule

// FunctionFor reports the aggregation function configured for a
// measurement in a schema. Pattern rules are tried in declared order
// first; the schema's default bucket (if any) is tried last. ok is
// false if nothing in the schema's rule list matches.
func (a AggregationRules) FunctionFor(schema, measurement string) (string, bool) {
	var def *AggregationRule
	for i, rule := range a[schema] {
		if rule.Regexp == nil {
			def = &a[schema][i]
			continue
		}
		if rule.Regexp.MatchString(measurement) {
			return rule.Function, true
		}
	}
	if def != nil {
		return def.Function, true
	}
	return "", false
}
