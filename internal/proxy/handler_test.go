package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transatel/cleanflux/internal/backend"
	"github.com/transatel/cleanflux/internal/rules"
)

func newTestHandler(t *testing.T, backendSrv *httptest.Server, cfg Config) *Handler {
	t.Helper()
	u, err := url.Parse(backendSrv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	logger := log.NewNopLogger()
	newClient := func(user, password string) *backend.Client {
		return backend.New(backend.Config{
			Host:    u.Hostname(),
			Port:    port,
			Timeout: 5 * time.Second,
		}, user, password, logger)
	}
	return NewHandler(u.Hostname(), port, newClient, New(cfg, logger), logger)
}

func TestHandlerPassthroughNonQueryPath(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ping", r.URL.Path)
		w.Header().Set("X-Influxdb-Version", "1.8.10")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backendSrv.Close()

	h := newTestHandler(t, backendSrv, Config{})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "1.8.10", resp.Header.Get("X-Influxdb-Version"))
}

func TestHandlerForwardsUncorrectableQueryVerbatim(t *testing.T) {
	const canned = `{"results":[{"statement_id":0,"series":[{"name":"databases","columns":["name"],"values":[["telegraf"]]}]}]}`
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SHOW DATABASES", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(canned))
	}))
	defer backendSrv.Close()

	h := newTestHandler(t, backendSrv, Config{})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/query?db=telegraf&q=" + url.QueryEscape("SHOW DATABASES"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, canned, string(body))
}

func TestHandlerSynthesizesResponseWhenRuleFires(t *testing.T) {
	step := int64(5 * 60 * 1e9)
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The rule rewrites the lower bound; whatever lands here gets a
		// fixed five-bucket series back.
		assert.Contains(t, r.URL.Query().Get("q"), "- 10m")
		rows := make([]string, 0, 5)
		for i := int64(0); i < 5; i++ {
			rows = append(rows, "["+strconv.FormatInt(i*step, 10)+","+strconv.FormatInt(i, 10)+"]")
		}
		body := `{"results":[{"statement_id":0,"series":[{"name":"m","columns":["time","sum"],"values":[` +
			strings.Join(rows, ",") + `]}]}]}`
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer backendSrv.Close()

	h := newTestHandler(t, backendSrv, Config{Rules: []rules.Rule{rules.NewPartialIntervalRule()}})
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	q := url.QueryEscape("SELECT sum(x) FROM m WHERE time >= now() - 1h GROUP BY time(5m)")
	resp, err := http.Get(srv.URL + "/query?db=telegraf&epoch=ms&q=" + q)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var decoded struct {
		Results []struct {
			Series []struct {
				Name   string  `json:"name"`
				Values [][]any `json:"values"`
			} `json:"series"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.Len(t, decoded.Results, 1)
	require.Len(t, decoded.Results[0].Series, 1)

	s := decoded.Results[0].Series[0]
	assert.Equal(t, "m", s.Name)
	// 5 rows - first - second-to-last = 3, each timestamp shifted
	// forward one interval and downcast to milliseconds.
	require.Len(t, s.Values, 3)
	assert.Equal(t, float64((step+step)/1e6), s.Values[0][0])
}
