// Package backend implements the narrow execute-and-return-tabular-result
// contract the query-interception pipeline depends on: submit a query
// text against a schema, get back a internal/tabular.Result. It is the
// only component that talks to the time-series backend's HTTP API.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"

	"github.com/transatel/cleanflux/internal/tabular"
)

// Config describes how to reach the backend and how to retry a
// transient failure before giving up.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
	// Retries is the number of additional attempts after the first,
	// each made with a freshly dialed connection, matching the
	// original InfluxDBClient.request's ConnectionError/
	// ChunkedEncodingError retry loop.
	Retries int
	// MaxRequestsPerSecond caps the rate of requests this client issues
	// against the backend, guarding a bounded-retry loop from hammering
	// a backend that is already flapping. 0 disables the limit.
	MaxRequestsPerSecond float64
}

// Client executes queries against the backend's /query endpoint on
// behalf of the corrective pipeline, decoding its native JSON result
// envelope into a tabular.Result the rules can operate on.
type Client struct {
	cfg        Config
	user       string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
}

// New constructs a Client bound to one set of backend credentials, the
// same ones the inbound request supplied (the core never holds its
// own service-account credentials; it only forwards what it was
// given).
func New(cfg Config, user, password string, logger log.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxRequestsPerSecond)
		burst = int(cfg.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{
		cfg:      cfg,
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.With(logger, "component", "backend"),
	}
}

// StatusError wraps a non-2xx HTTP response from the backend, carrying
// its status code and body verbatim so a 4xx can be relayed to the
// client unchanged and a 5xx can be turned into a 503.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Body)
}

// Query executes a single raw query statement against schema and
// decodes the backend's response into a tabular.Result. Internally
// every query is issued with epoch=ns so rule arithmetic always works
// in nanoseconds; the caller's requested client precision is applied
// only at re-serialization time.
func (c *Client) Query(ctx context.Context, schema, rawQuery string) (tabular.Result, error) {
	body, err := c.doWithRetry(ctx, schema, rawQuery)
	if err != nil {
		return tabular.Result{}, err
	}
	return tabular.Unmarshal(body)
}

func (c *Client) doWithRetry(ctx context.Context, schema, rawQuery string) ([]byte, error) {
	attempts := c.cfg.Retries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, err := c.do(ctx, schema, rawQuery)
		if err == nil {
			return body, nil
		}
		if _, isStatus := err.(*StatusError); isStatus {
			// 4xx/5xx responses are not transient connection failures;
			// retrying would just hit the same backend error again.
			return nil, err
		}
		lastErr = err
		level.Warn(c.logger).Log("msg", "backend request failed, retrying with a fresh connection", "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("backend: exhausted %d attempts: %w", attempts, lastErr)
}

func (c *Client) do(ctx context.Context, schema, rawQuery string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("backend: rate limiter: %w", err)
	}

	reqURL := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
		Path:   "/query",
	}
	q := url.Values{}
	q.Set("db", schema)
	q.Set("q", rawQuery)
	q.Set("epoch", "ns")
	if c.user != "" {
		q.Set("u", c.user)
	}
	if c.password != "" {
		q.Set("p", c.password)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Any transport-level failure (refused connection, reset,
		// truncated chunked body) is treated as transient, matching the
		// original's ConnectionError/ChunkedEncodingError retry branch.
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}
