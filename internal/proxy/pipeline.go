// Package proxy wires the parser, modifier, retention-policy
// auto-selector, points-budget limiter and corrective-rule engine
// (internal/query, internal/rp, internal/limiter, internal/rules) into
// the per-request query-interception pipeline, and exposes it as an
// HTTP handler that intercepts GET /query and passes every other
// request straight through to the backend.
package proxy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/transatel/cleanflux/internal/dateutil"
	"github.com/transatel/cleanflux/internal/limiter"
	"github.com/transatel/cleanflux/internal/query"
	"github.com/transatel/cleanflux/internal/rp"
	"github.com/transatel/cleanflux/internal/rules"
	"github.com/transatel/cleanflux/internal/tabular"
)

// Config bundles the pipeline's tunables, sourced from the process
// configuration.
type Config struct {
	Catalog            *rp.SafeCatalog
	AggregationRules   rp.AggregationRules
	MaxPointsPerQuery  int64        // 0 means unset
	MaxPointsPerSeries int64        // 0 means unset
	Rules              []rules.Rule // ordered: counter-wrap before partial-interval
}

// Pipeline evaluates the corrective rules and rewrite primitives for
// one statement at a time. It holds no per-request state; every method
// takes the request-scoped Executor (an internal/backend.Client bound
// to the caller's forwarded credentials) explicitly.
type Pipeline struct {
	cfg    Config
	logger log.Logger
}

// New constructs a Pipeline from its configuration.
func New(cfg Config, logger log.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger}
}

// Outcome is the per-statement result of running the pipeline: either
// a rule already produced a tabular.Statement locally, or the
// statement (possibly with a rewritten query text) still needs
// executing against the backend.
type Outcome struct {
	// Text is the statement text to execute if Statement is nil: either
	// the original text unchanged, or a rewritten query (RP switch,
	// GROUP BY interval coarsening).
	Text string
	// Rewritten is true if Text differs from the statement as received,
	// or a rule already computed Statement — either way, the original
	// request can no longer be forwarded verbatim.
	Rewritten bool
	// Statement is non-nil when a corrective rule already computed the
	// result locally; Text is then the original (irrelevant) statement.
	Statement *tabular.Statement
}

// Process runs one statement through RP auto-selection, the
// points-budget limiter, and the corrective-rule engine, in that
// order: rules run after rewrites, and counter-wrap runs before
// partial-interval so the latter never re-edits the former's output.
// Any panic inside a stage is recovered and the statement is
// forwarded unchanged rather than failing the request: correction
// must never make a query fail that would otherwise have succeeded.
func (p *Pipeline) Process(ctx context.Context, exec rules.Executor, schema, rawQuery string) (outcome Outcome) {
	outcome = Outcome{Text: rawQuery}

	defer func() {
		if r := recover(); r != nil {
			level.Error(p.logger).Log("msg", "internal rewrite failure, forwarding original query", "query", rawQuery, "panic", r, "stack", string(debug.Stack()))
			outcome = Outcome{Text: rawQuery}
		}
	}()

	if !query.IsSelect(rawQuery) {
		return outcome
	}

	pq := query.Parse(rawQuery)

	p.applyRPAutoSelect(pq, schema)
	p.applyPointsLimiter(ctx, exec, pq, schema)

	for _, rule := range p.cfg.Rules {
		if !rule.Check(schema, pq) {
			continue
		}
		result, err := rule.Action(ctx, exec, schema, pq)
		if err != nil {
			level.Warn(p.logger).Log("msg", "corrective rule declined after check passed", "rule", rule.Name(), "err", err)
			continue
		}
		if len(result.Statements) == 0 {
			continue
		}
		st := result.Statements[0]
		outcome.Statement = &st
		outcome.Rewritten = true
		return outcome
	}

	rewritten := pq.String()
	if rewritten != rawQuery {
		outcome.Rewritten = true
	}
	outcome.Text = rewritten
	return outcome
}

// applyRPAutoSelect chooses a better-fit retention
// policy for the query's time window and rewrite FROM/GROUP BY/SUM
// factor accordingly. It mutates pq in place and is a no-op whenever
// any precondition in the policy is unmet.
func (p *Pipeline) applyRPAutoSelect(pq *query.ParsedQuery, schema string) {
	if p.cfg.Catalog == nil {
		return
	}
	from, ok := pq.From()
	if !ok {
		return
	}
	effectiveSchema := schema
	if from.Schema != "" {
		effectiveSchema = from.Schema
	}
	if from.RP != "" {
		// The query already pins an explicit retention policy; the
		// auto-selector never overrides an explicit choice.
		return
	}

	catalog := p.cfg.Catalog.Load()
	if len(catalog[effectiveSchema]) == 0 {
		return
	}

	lowerText, ok := pq.LowerTimeBound()
	if !ok {
		return
	}
	now := time.Now().UTC()
	lowerBound, err := dateutil.ResolveTimeBound(lowerText, now)
	if err != nil {
		return
	}

	chosen, ok := rp.SelectRP(catalog, effectiveSchema, lowerBound, now)
	if !ok {
		return
	}

	def, hasDefault := catalog.DefaultRP(effectiveSchema)
	if hasDefault && chosen.Name == def.Name {
		// The default RP is good enough for this window, nothing to
		// rewrite.
		return
	}

	pq.ChangeRP(chosen.Name)

	requestedIntervalText, hasGroupBy := pq.GroupByTimeInterval()
	if !hasGroupBy {
		return
	}
	requestedInterval, err := dateutil.ParseInterval(requestedIntervalText)
	if err != nil {
		return
	}
	sel := rp.AdjustGroupByInterval(chosen, requestedInterval.Nanos())
	if !sel.FactorApplies {
		return
	}
	pq.ChangeGroupByTimeInterval(nanosToIntervalLiteral(sel.NewGroupByInterval))

	if !pq.HasSumGroupByTime() {
		return
	}
	fn, ok := p.cfg.AggregationRules.FunctionFor(effectiveSchema, from.Measurement)
	if !ok || fn != "sum" {
		return
	}
	oldN, newN := reduceFraction(sel.SumFactorOldPoints, sel.SumFactorNewPoints)
	pq.ChangeSumGroupByTimeFactor(oldN, newN)
}

// applyPointsLimiter re-coarsens the GROUP BY interval
// so a query cannot return more than the configured points budget.
// Per-query budget takes precedence over per-series when both are
// configured.
func (p *Pipeline) applyPointsLimiter(ctx context.Context, exec rules.Executor, pq *query.ParsedQuery, schema string) {
	if p.cfg.MaxPointsPerQuery <= 0 && p.cfg.MaxPointsPerSeries <= 0 {
		return
	}
	lowerText, ok := pq.LowerTimeBound()
	if !ok {
		return
	}
	now := time.Now().UTC()
	lowerBound, err := dateutil.ResolveTimeBound(lowerText, now)
	if err != nil {
		return
	}
	upperBound := now
	if upperText, ok := pq.UpperTimeBound(); ok {
		if t, err := dateutil.ResolveTimeBound(upperText, now); err == nil {
			upperBound = t
		}
	}
	windowNanos := upperBound.Sub(lowerBound).Nanoseconds()
	if windowNanos <= 0 {
		return
	}
	intervalText, ok := pq.GroupByTimeInterval()
	if !ok {
		return
	}
	interval, err := dateutil.ParseInterval(intervalText)
	if err != nil {
		return
	}

	var result limiter.LimitResult
	if p.cfg.MaxPointsPerQuery > 0 {
		numSeries := p.countSeries(ctx, exec, schema, pq)
		result = limiter.LimitPerQuery(windowNanos, interval, numSeries, p.cfg.MaxPointsPerQuery)
	} else {
		result = limiter.LimitPerSeries(windowNanos, interval, p.cfg.MaxPointsPerSeries)
	}
	if !result.Changed {
		return
	}

	pq.ChangeGroupByTimeInterval(result.NewInterval.String())
	if pq.HasSumGroupByTime() {
		pq.ChangeSumGroupByTimeFactor(1, result.Factor)
	}
}

// countSeries probes the backend with the query suffixed by LIMIT 1 to
// count the distinct series it would touch, the cardinality input the
// per-query points budget needs.
func (p *Pipeline) countSeries(ctx context.Context, exec rules.Executor, schema string, pq *query.ParsedQuery) int64 {
	probe := pq.Clone()
	probe.AddLimit(1)
	result, err := exec.Query(ctx, schema, probe.String())
	if err != nil {
		level.Warn(p.logger).Log("msg", "series cardinality probe failed, assuming one series", "err", err)
		return 1
	}
	if len(result.Statements) == 0 {
		return 1
	}
	n := int64(len(result.Statements[0].Series))
	if n == 0 {
		return 1
	}
	return n
}

// nanosToIntervalLiteral renders a nanosecond duration as the coarsest
// whole-unit InfluxQL literal that represents it exactly, falling back
// to nanoseconds when no larger unit divides it evenly.
func nanosToIntervalLiteral(ns int64) string {
	for _, unit := range []string{"w", "d", "h", "m", "s", "ms", "u"} {
		d := unitNanosFor(unit)
		if d > 0 && ns%d == 0 {
			return fmt.Sprintf("%d%s", ns/d, unit)
		}
	}
	return fmt.Sprintf("%dns", ns)
}

func unitNanosFor(unit string) int64 {
	iv := dateutil.Interval{Number: 1, Unit: unit}
	return iv.Nanos()
}

// reduceFraction divides a and b by their greatest common divisor so
// the emitted rate-preservation fraction is legible, e.g. "1 / 12"
// rather than "300000000000 / 3600000000000".
func reduceFraction(a, b int64) (int64, int64) {
	g := gcd(a, b)
	if g <= 1 {
		return a, b
	}
	return a / g, b / g
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
