// Package api is the REST + WebSocket facade over every engine: it
// translates HTTP requests into calls on the proxy engine, rule
// engine, intercept coordinator, intruder engine, spider engine,
// scanner, site-map builder, and analyzer kernels, and relays
// event-bus traffic to WebSocket clients.
//
// Grounded on the teacher's internal/dashboard/dashboard.go: an
// Options struct of injected dependencies, a handler type exposing
// APIHandler()/WebSocketHandler() as http.Handler, one http.NewServeMux
// route table, and a writeJSON helper. The teacher's wsHub is not
// reimplemented here — internal/eventbus.Bus already generalizes it
// (bounded per-subscriber queue, drop-oldest backpressure), so the
// WebSocket handler is a thin adapter that subscribes to the bus
// instead of running a second hub.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webintercept/proxycore/internal/analyzer"
	"github.com/webintercept/proxycore/internal/castore"
	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/intercept"
	"github.com/webintercept/proxycore/internal/intruder"
	"github.com/webintercept/proxycore/internal/proxyengine"
	"github.com/webintercept/proxycore/internal/ruleengine"
	"github.com/webintercept/proxycore/internal/scanner"
	"github.com/webintercept/proxycore/internal/sitemap"
	"github.com/webintercept/proxycore/internal/spider"
	"github.com/webintercept/proxycore/internal/store"
)

// Options holds every dependency the facade routes requests to.
type Options struct {
	Flows     store.FlowStore
	Attacks   store.AttackStore
	Spiders   store.SpiderStore
	Scans     store.ScanStore

	Rules     *ruleengine.Engine
	Intercept *intercept.Coordinator
	Proxy     *proxyengine.Engine
	CA        *castore.Store
	Intruder  *intruder.Engine
	Spider    *spider.Engine
	Scanner   *scanner.Scanner
	Sitemap   *sitemap.Builder
	Bus       *eventbus.Bus

	// Client is the upstream HTTP client used to re-issue replayed
	// requests; it is the same pooled client the proxy engine forwards
	// live traffic through.
	Client *http.Client

	// CORSOrigins is the allow-list for the Access-Control-Allow-Origin
	// header; "*" permits any origin.
	CORSOrigins []string
}

// Handler serves the full /api + /ws + /metrics surface.
type Handler struct {
	opts Options
}

// New builds a Handler from opts.
func New(opts Options) *Handler {
	return &Handler{opts: opts}
}

// Mux builds the route table. Grounded on the teacher's APIHandler()
// http.NewServeMux route table shape.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/requests", h.handleRequests)
	mux.HandleFunc("/api/requests/", h.handleRequestByID)

	mux.HandleFunc("/api/rules", h.handleRules)
	mux.HandleFunc("/api/rules/", h.handleRuleByID)

	mux.HandleFunc("/api/proxy/status", h.handleProxyStatus)
	mux.HandleFunc("/api/proxy/start", h.handleProxyStart)
	mux.HandleFunc("/api/proxy/stop", h.handleProxyStop)
	mux.HandleFunc("/api/proxy/intercept/toggle", h.handleInterceptToggle)
	mux.HandleFunc("/api/proxy/intercept/action", h.handleInterceptAction)
	mux.HandleFunc("/api/proxy/replay", h.handleReplay)
	mux.HandleFunc("/api/proxy/certificate", h.handleCertificate)
	mux.HandleFunc("/api/proxy/system/status", h.handleSystemProxyStub)
	mux.HandleFunc("/api/proxy/system/enable", h.handleSystemProxyStub)
	mux.HandleFunc("/api/proxy/system/disable", h.handleSystemProxyStub)

	mux.HandleFunc("/api/intruder/attacks", h.handleIntruderAttacks)
	mux.HandleFunc("/api/intruder/attacks/", h.handleIntruderAttackByID)

	mux.HandleFunc("/api/spider/sessions", h.handleSpiderSessions)
	mux.HandleFunc("/api/spider/sessions/", h.handleSpiderSessionByID)

	mux.HandleFunc("/api/scanner/issues", h.handleScanIssues)
	mux.HandleFunc("/api/scanner/scan", h.handleScanRun)

	mux.HandleFunc("/api/sitemap", h.handleSitemap)
	mux.HandleFunc("/api/sitemap/", h.handleSitemap)

	mux.HandleFunc("/api/decoder/encode", h.handleDecoderEncode)
	mux.HandleFunc("/api/decoder/decode", h.handleDecoderDecode)
	mux.HandleFunc("/api/sequencer/analyze", h.handleSequencerAnalyze)
	mux.HandleFunc("/api/comparer/compare", h.handleComparerCompare)

	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())

	return h.withCORS(mux)
}

func (h *Handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := corsOrigin(h.opts.CORSOrigins, r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsOrigin(allowed []string, origin string) string {
	if len(allowed) == 0 {
		return ""
	}
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if a == origin {
			return origin
		}
	}
	return ""
}

// writeJSON sends a JSON response with the given status code, matching
// the teacher's helper.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	slog.Error("api request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func (h *Handler) handleSystemProxyStub(w http.ResponseWriter, r *http.Request) {
	// OS-level system-proxy registration is platform-specific shell-out
	// glue, out of core per spec.md; the contract is specified but not
	// implemented here.
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"error": fmt.Sprintf("system-proxy registration is not implemented in core (platform: %s)", runtime.GOOS),
	})
}

func (h *Handler) handleDecoderEncode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input    string `json:"input"`
		Encoding string `json:"encoding"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := analyzer.Encode(req.Input, analyzer.Encoding(req.Encoding))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (h *Handler) handleDecoderDecode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input    string `json:"input"`
		Encoding string `json:"encoding"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := analyzer.Decode(req.Input, analyzer.Encoding(req.Encoding))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func (h *Handler) handleSequencerAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens []string `json:"tokens"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzer.Analyze(req.Tokens))
}

func (h *Handler) handleComparerCompare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ops":        analyzer.Compare(req.A, req.B),
		"similarity": analyzer.SimilarityRatio(req.A, req.B),
	})
}
