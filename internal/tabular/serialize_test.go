package tabular

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBareMeasurement(t *testing.T) {
	r := Result{Statements: []Statement{
		{
			StatementID: 0,
			Series: []Series{
				{
					Key:     SeriesKey{Measurement: "cpu"},
					Columns: []string{"time", "value"},
					Rows: [][]any{
						{int64(1_700_000_000_000_000_000), 1.5},
						{int64(1_700_000_000_001_000_000), math.NaN()},
					},
				},
			},
		},
	}}

	out, err := Marshal(r, "ms")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))

	results := decoded["results"].([]any)
	require.Len(t, results, 1)
	series := results[0].(map[string]any)["series"].([]any)
	require.Len(t, series, 1)
	s := series[0].(map[string]any)
	assert.Equal(t, "cpu", s["name"])
	values := s["values"].([]any)
	require.Len(t, values, 2)
	row0 := values[0].([]any)
	assert.Equal(t, float64(1_700_000_000_000), row0[0])
	assert.Equal(t, 1.5, row0[1])
	row1 := values[1].([]any)
	assert.Nil(t, row1[1])
}

func TestMarshalWithTags(t *testing.T) {
	r := Result{Statements: []Statement{
		{
			Series: []Series{
				{
					Key:     SeriesKey{Measurement: "cpu", Tags: []TagPair{{Key: "host", Value: "a"}}},
					Columns: []string{"time", "value"},
					Rows:    [][]any{{int64(0), 1.0}},
				},
			},
		},
	}}
	out, err := Marshal(r, "s")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"tags":{"host":"a"}`)
}

func TestMarshalRFC3339WhenNoPrecision(t *testing.T) {
	r := Result{Statements: []Statement{
		{Series: []Series{{Key: SeriesKey{Measurement: "cpu"}, Columns: []string{"time", "v"}, Rows: [][]any{{int64(0), 1.0}}}}},
	}}
	out, err := Marshal(r, "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "1970-01-01T00:00:00Z")
}

func TestUnmarshalRoundTrip(t *testing.T) {
	body := []byte(`{"results":[{"statement_id":0,"series":[` +
		`{"name":"cpu","tags":{"host":"a"},"columns":["time","value"],` +
		`"values":[[1700000000000000000,1.5],[1700000000001000000,null]]}]}]}`)

	result, err := Unmarshal(body)
	require.NoError(t, err)
	require.Len(t, result.Statements, 1)
	require.Len(t, result.Statements[0].Series, 1)

	s := result.Statements[0].Series[0]
	assert.Equal(t, "cpu", s.Key.Measurement)
	assert.Equal(t, []TagPair{{Key: "host", Value: "a"}}, s.Key.Tags)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, int64(1700000000000000000), s.Rows[0][0])
	assert.Equal(t, 1.5, s.Rows[0][1])
	assert.True(t, math.IsNaN(s.Rows[1][1].(float64)))
}

func TestUnmarshalThenMarshal(t *testing.T) {
	body := []byte(`{"results":[{"statement_id":0,"series":[` +
		`{"name":"cpu","columns":["time","value"],"values":[[1700000000000000000,42]]}]}]}`)
	result, err := Unmarshal(body)
	require.NoError(t, err)

	out, err := Marshal(result, "s")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"columns":["time","value"]`)
	assert.Contains(t, string(out), `[1700000000,42]`)
}
