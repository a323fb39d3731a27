// Package rules implements the corrective rule engine: a small,
// explicitly ordered set of rules that recognise a query shape known
// to produce a misleading result from this backend, and repair it by
// requesting extra history and post-processing the response.
package rules

import (
	"context"

	"github.com/transatel/cleanflux/internal/query"
	"github.com/transatel/cleanflux/internal/tabular"
)

// Executor runs a single raw query against a schema and returns its
// tabular result. internal/backend.Client satisfies this.
type Executor interface {
	Query(ctx context.Context, schema, rawQuery string) (tabular.Result, error)
}

// Rule recognises a correctable query shape and rewrites/post-processes
// the result.
type Rule interface {
	// Name is the configuration key used to enable this rule.
	Name() string
	// Description is a one-line human-readable summary, printed by
	// the CLI's --show-rules output.
	Description() string
	// Check reports whether this rule applies to the given query.
	Check(schema string, pq *query.ParsedQuery) bool
	// Action executes the corrected query against exec and returns the
	// repaired tabular result.
	Action(ctx context.Context, exec Executor, schema string, pq *query.ParsedQuery) (tabular.Result, error)
}
