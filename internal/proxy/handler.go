package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/transatel/cleanflux/internal/backend"
	"github.com/transatel/cleanflux/internal/tabular"
)

// hopByHopHeaders are stripped from both the inbound request and the
// backend's response before forwarding, per RFC 7230 §6.1 — a proxy
// must not relay connection-scoped headers end to end.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// RequestTimeout bounds how long a single proxied request, including
// every backend round trip the pipeline issues, may run.
const RequestTimeout = 60 * time.Second

// Handler is the HTTP entry point: it forwards everything except GET
// /query unchanged, and for /query decides, statement by statement,
// whether the request can still be forwarded verbatim or must be
// executed piecemeal and re-serialized.
type Handler struct {
	backendHost string
	backendPort int
	newClient   func(user, password string) *backend.Client
	pipeline    *Pipeline
	logger      log.Logger
}

// NewHandler builds the proxy's HTTP handler. newClient constructs a
// backend.Client bound to the credentials forwarded on a given
// request, so every request gets its own client without re-parsing
// static configuration per call.
func NewHandler(backendHost string, backendPort int, newClient func(user, password string) *backend.Client, pipeline *Pipeline, logger log.Logger) *Handler {
	return &Handler{
		backendHost: backendHost,
		backendPort: backendPort,
		newClient:   newClient,
		pipeline:    pipeline,
		logger:      logger,
	}
}

// Router builds the gorilla/mux router: /query is intercepted, every
// other path falls through to the passthrough forwarder.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/query", h.handleQuery).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(h.handlePassthrough)
	return r
}

func (h *Handler) handleQuery(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), RequestTimeout)
	defer cancel()

	if err := req.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	decoded := decodeQueryRequest(req.Form)
	if len(decoded.Queries) == 0 {
		level.Debug(h.logger).Log("msg", "query request carries no statements, forwarding unmodified", "err", errMissingQuery)
		h.forward(w, req)
		return
	}

	client := h.newClient(decoded.User, decoded.Password)

	outcomes := make([]Outcome, len(decoded.Queries))
	anyRewritten := false
	for i, stmt := range decoded.Queries {
		outcomes[i] = h.pipeline.Process(ctx, client, decoded.Schema, stmt)
		if outcomes[i].Rewritten {
			anyRewritten = true
		}
	}

	if !anyRewritten {
		h.forward(w, req)
		return
	}

	result := tabular.Result{Statements: make([]tabular.Statement, len(outcomes))}
	for i, o := range outcomes {
		if o.Statement != nil {
			st := *o.Statement
			st.StatementID = i
			result.Statements[i] = st
			continue
		}
		r, err := client.Query(ctx, decoded.Schema, o.Text)
		if err != nil {
			level.Error(h.logger).Log("msg", "backend query failed", "query", o.Text, "err", err)
			writeBackendError(w, err)
			return
		}
		if len(r.Statements) == 0 {
			result.Statements[i] = tabular.Statement{StatementID: i}
			continue
		}
		st := r.Statements[0]
		st.StatementID = i
		result.Statements[i] = st
	}

	body, err := tabular.Marshal(result, decoded.Precision)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body = append(body, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeBackendError maps a failed backend call onto the client-facing
// status: a 4xx is relayed with the backend's status and body
// verbatim, while a backend 5xx or an exhausted transport retry
// surfaces as 503.
func writeBackendError(w http.ResponseWriter, err error) {
	if statusErr, ok := err.(*backend.StatusError); ok && statusErr.StatusCode < 500 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusErr.StatusCode)
		io.WriteString(w, statusErr.Body)
		return
	}
	http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
}

// handlePassthrough forwards any request the query interceptor does
// not own straight to the backend, unmodified apart from hop-by-hop
// headers.
func (h *Handler) handlePassthrough(w http.ResponseWriter, req *http.Request) {
	h.forward(w, req)
}

func (h *Handler) forward(w http.ResponseWriter, req *http.Request) {
	outURL := *req.URL
	outURL.Scheme = "http"
	outURL.Host = fmt.Sprintf("%s:%d", h.backendHost, h.backendPort)

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, outURL.String(), req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	copyHeaders(outReq.Header, req.Header)
	stripHopByHop(outReq.Header)

	resp, err := http.DefaultClient.Do(outReq)
	if err != nil {
		level.Error(h.logger).Log("msg", "backend passthrough failed", "path", req.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	outHeader := w.Header()
	copyHeaders(outHeader, resp.Header)
	stripHopByHop(outHeader)
	outHeader.Set("Content-Length", strconv.Itoa(len(body)))

	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, tok := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
