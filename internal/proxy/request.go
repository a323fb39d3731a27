package proxy

import (
	"net/url"
	"strings"
)

// decodedRequest is the subset of an inbound /query request the
// pipeline needs, extracted from its URL query string: the
// forwarded credentials and schema, the individual statements to
// evaluate, and the client's requested timestamp precision.
type decodedRequest struct {
	User      string
	Password  string
	Schema    string
	Queries   []string
	Precision string
}

// decodeQueryRequest extracts {user, password, schema, queries,
// precision} from a /query request's URL parameters. A single "q"
// parameter may itself contain ";"-separated statements; repeated "q"
// parameters accumulate.
func decodeQueryRequest(values url.Values) decodedRequest {
	d := decodedRequest{
		User:      values.Get("u"),
		Password:  values.Get("p"),
		Schema:    values.Get("db"),
		Precision: values.Get("epoch"),
	}
	for _, raw := range values["q"] {
		for _, stmt := range strings.Split(raw, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt != "" {
				d.Queries = append(d.Queries, stmt)
			}
		}
	}
	return d
}
