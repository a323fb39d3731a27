package tabular

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/transatel/cleanflux/internal/dateutil"
)

// wireSeries is the JSON shape of one series within a statement's
// "series" array, matching the backend's native response envelope.
type wireSeries struct {
	Name    string           `json:"name"`
	Tags    map[string]string `json:"tags,omitempty"`
	Columns []string         `json:"columns"`
	Values  [][]any          `json:"values"`
}

type wireStatement struct {
	StatementID int          `json:"statement_id"`
	Series      []wireSeries `json:"series,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type wireResponse struct {
	Results []wireStatement `json:"results"`
}

// Marshal renders a Result to the backend's native JSON response
// envelope, downcasting the time column to the client-requested epoch
// precision (an empty precision emits RFC3339 text, matching the
// backend's default when no "epoch" query parameter is given).
func Marshal(r Result, precision string) ([]byte, error) {
	resp := wireResponse{Results: make([]wireStatement, len(r.Statements))}
	for i, st := range r.Statements {
		ws := wireStatement{StatementID: st.StatementID, Error: st.Err}
		for _, s := range st.Series {
			ws.Series = append(ws.Series, toWireSeries(s, precision))
		}
		resp.Results[i] = ws
	}
	return json.Marshal(resp)
}

func toWireSeries(s Series, precision string) wireSeries {
	ws := wireSeries{Name: s.Key.Measurement, Columns: s.Columns}
	if len(s.Key.Tags) > 0 {
		ws.Tags = make(map[string]string, len(s.Key.Tags))
		for _, t := range s.Key.Tags {
			ws.Tags[t.Key] = t.Value
		}
	}
	ws.Values = make([][]any, len(s.Rows))
	for i, row := range s.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			if j == 0 {
				out[j] = formatTime(v, precision)
				continue
			}
			out[j] = normalizeCell(v)
		}
		ws.Values[i] = out
	}
	return ws
}

// formatTime converts a timestamp cell (stored internally as int64
// nanoseconds since epoch) to the wire representation for the
// requested precision, or to an RFC3339Nano string when precision is
// empty.
func formatTime(v any, precision string) any {
	ns, ok := v.(int64)
	if !ok {
		return v
	}
	if precision == "" {
		return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	downcast, ok := dateutil.DowncastTimestamp(ns, precision)
	if !ok {
		return ns
	}
	return downcast
}

// normalizeCell converts a NaN float64 to nil so it marshals to JSON
// null, matching the backend's own NaN-to-null convention. All other
// values pass through unchanged.
func normalizeCell(v any) any {
	if f, ok := v.(float64); ok && isNaN(f) {
		return nil
	}
	return v
}

func isNaN(f float64) bool { return f != f }

// Unmarshal decodes a backend response envelope, always requested
// with epoch=ns (internal/backend.Client.Query sets this
// unconditionally), into a Result the rules can operate on. A
// non-integer value in a row's first (time) cell is kept as decoded
// rather than failing the whole decode, matching the tolerance the
// re-serializer itself extends to unrecognised cells.
func Unmarshal(data []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw wireResponse
	if err := dec.Decode(&raw); err != nil {
		return Result{}, err
	}

	result := Result{Statements: make([]Statement, len(raw.Results))}
	for i, ws := range raw.Results {
		st := Statement{StatementID: ws.StatementID, Err: ws.Error}
		for _, s := range ws.Series {
			st.Series = append(st.Series, fromWireSeries(s))
		}
		result.Statements[i] = st
	}
	return result, nil
}

func fromWireSeries(ws wireSeries) Series {
	s := Series{Columns: ws.Columns, Key: SeriesKey{Measurement: ws.Name}}
	if len(ws.Tags) > 0 {
		for k, v := range ws.Tags {
			s.Key.Tags = append(s.Key.Tags, TagPair{Key: k, Value: v})
		}
	}
	s.Rows = make([][]any, len(ws.Values))
	for i, row := range ws.Values {
		out := make([]any, len(row))
		for j, v := range row {
			if j == 0 {
				out[j] = toNanosTime(v)
				continue
			}
			out[j] = toCell(v)
		}
		s.Rows[i] = out
	}
	return s
}

// toNanosTime converts a decoded "time" cell — a json.Number when the
// backend was asked for epoch=ns — into an int64 nanosecond timestamp.
func toNanosTime(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	return v
}

// toCell converts a decoded value cell: JSON null (decoded to nil by
// encoding/json) becomes the NaN sentinel, json.Number becomes
// float64, everything else passes through unchanged.
func toCell(v any) any {
	if v == nil {
		return math.NaN()
	}
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}
