package main

import (
	"regexp"

	"github.com/transatel/cleanflux/internal/rp"
	"github.com/transatel/cleanflux/internal/rules"
)

// allRuleNames lists every built-in corrective rule, in the fixed
// evaluation order the pipeline requires: counter-wrap runs before
// partial-interval so the latter never re-edits the former's output.
var allRuleNames = []string{
	"handle_counter_wrap_non_negative_derivative",
	"remove_partial_intervals_case_sum_group_by_time",
}

// buildRules constructs the configured subset of the built-in rules,
// in allRuleNames order, from the config's counter_overflows. An empty
// cfg.Rules enables every built-in rule.
func buildRules(cfg *Config) ([]rules.Rule, error) {
	enabled := map[string]bool{}
	if len(cfg.Rules) == 0 {
		for _, name := range allRuleNames {
			enabled[name] = true
		}
	} else {
		for _, name := range cfg.Rules {
			enabled[name] = true
		}
	}

	overflows := make(map[rules.SchemaMeasurement]int64, len(cfg.CounterOverflows))
	for _, o := range cfg.CounterOverflows {
		overflows[rules.SchemaMeasurement{Schema: o.Schema, Measurement: o.Measurement}] = o.Modulus
	}

	var built []rules.Rule
	for _, name := range allRuleNames {
		if !enabled[name] {
			continue
		}
		switch name {
		case "handle_counter_wrap_non_negative_derivative":
			built = append(built, rules.NewCounterWrapRule(overflows))
		case "remove_partial_intervals_case_sum_group_by_time":
			built = append(built, rules.NewPartialIntervalRule())
		default:
			return nil, errUnknownRule(name)
		}
	}
	for name := range enabled {
		known := false
		for _, n := range allRuleNames {
			if n == name {
				known = true
				break
			}
		}
		if !known {
			return nil, errUnknownRule(name)
		}
	}
	return built, nil
}

// buildAggregationRules turns the config's aggregation_properties into
// the rp.AggregationRules the RP auto-selector consults to decide
// whether a GROUP BY rewrite needs a rate-preserving SUM factor.
func buildAggregationRules(cfg *Config) (rp.AggregationRules, error) {
	out := rp.AggregationRules{}
	for _, prop := range cfg.AggregationProperties {
		var re *regexp.Regexp
		if !prop.Default {
			compiled, err := regexp.Compile(prop.Pattern)
			if err != nil {
				return nil, err
			}
			re = compiled
		}
		out[prop.Schema] = append(out[prop.Schema], rp.AggregationRule{Regexp: re, Function: prop.Function})
	}
	return out, nil
}

// buildStaticCatalog turns the config's retention_policies into an
// rp.Catalog, for use when auto-discovery is disabled or returns no
// schema.
func buildStaticCatalog(cfg *Config) rp.Catalog {
	catalog := rp.Catalog{}
	for _, entry := range cfg.RetentionPolicies {
		catalog[entry.Schema] = append(catalog[entry.Schema], rp.RetentionPolicy{
			Schema:        entry.Schema,
			Name:          entry.Name,
			Default:       entry.Default,
			DurationNanos: entry.Duration.Nanoseconds(),
			IntervalNanos: entry.Interval.Nanoseconds(),
		})
	}
	return catalog
}

// showRules prints each configured rule's name and description, one
// per line, in evaluation order.
func showRules(built []rules.Rule) string {
	var out string
	for _, r := range built {
		out += r.Name() + ": " + r.Description() + "\n"
	}
	return out
}
