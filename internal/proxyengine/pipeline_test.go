package proxyengine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/intercept"
	"github.com/webintercept/proxycore/internal/ruleengine"
	"github.com/webintercept/proxycore/internal/store"
	"github.com/webintercept/proxycore/internal/upstream"
)

type memFlowStore struct {
	saved []flow.Snapshot
}

func (m *memFlowStore) SaveFlow(ctx context.Context, snap flow.Snapshot) error {
	m.saved = append(m.saved, snap)
	return nil
}
func (m *memFlowStore) GetFlow(ctx context.Context, id string) (flow.Snapshot, error) {
	for _, s := range m.saved {
		if s.ID.String() == id {
			return s, nil
		}
	}
	return flow.Snapshot{}, fmt.Errorf("flow %s not found", id)
}
func (m *memFlowStore) ListFlows(ctx context.Context, filter store.FlowFilter) ([]flow.Snapshot, error) {
	return m.saved, nil
}
func (m *memFlowStore) DeleteFlow(ctx context.Context, id string) error { return nil }

func newTestEngine(t *testing.T, upstreamURL string) (*Engine, *memFlowStore) {
	t.Helper()
	rules, err := ruleengine.New("")
	if err != nil {
		t.Fatalf("ruleengine.New: %v", err)
	}
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	coord := intercept.New(false, time.Second, bus)
	fs := &memFlowStore{}

	client := upstream.New(upstream.DefaultOptions())

	eng := New(Options{
		Rules:        rules,
		Intercept:    coord,
		Client:       client,
		Bus:          bus,
		Flows:        fs,
		MaxBodyBytes: 1 << 20,
	})
	return eng, fs
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return u.Hostname(), port
}

func TestRunPipeline_ForwardsToUpstreamAndRecords(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello from origin"))
	}))
	defer upstreamSrv.Close()

	eng, fs := newTestEngine(t, upstreamSrv.URL)
	host, port := hostPort(t, upstreamSrv.URL)

	f := flow.New(flow.SchemeHTTP, http.MethodGet, host, port, "/widgets", "")
	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)

	resp, err := eng.runPipeline(context.Background(), f, req)
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(fs.saved) != 1 {
		t.Fatalf("expected 1 saved flow, got %d", len(fs.saved))
	}
	if fs.saved[0].ResponseStatus != http.StatusOK {
		t.Fatalf("recorded status = %d, want 200", fs.saved[0].ResponseStatus)
	}
}

func TestRunPipeline_RuleBlockShortCircuitsBeforeUpstream(t *testing.T) {
	hit := false
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstreamSrv.Close()

	eng, fs := newTestEngine(t, upstreamSrv.URL)
	host, port := hostPort(t, upstreamSrv.URL)

	if err := eng.opts.Rules.AddRule("name: block-admin\naction: block\nmessage: nope\nmatch:\n  pathGlob: \"/admin/**\"\n"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	f := flow.New(flow.SchemeHTTP, http.MethodGet, host, port, "/admin/secrets", "")
	req := httptest.NewRequest(http.MethodGet, "/admin/secrets", nil)

	resp, err := eng.runPipeline(context.Background(), f, req)
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if hit {
		t.Fatalf("upstream should not have been contacted for a blocked request")
	}
	if len(fs.saved) != 1 {
		t.Fatalf("expected 1 saved flow, got %d", len(fs.saved))
	}
	found := false
	for _, tag := range fs.saved[0].Tags {
		if tag == "blocked" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected blocked tag on recorded flow, got tags %v", fs.saved[0].Tags)
	}
}

func TestApplyRuleDecision_AddHeader(t *testing.T) {
	f := flow.New(flow.SchemeHTTP, http.MethodGet, "example.com", 80, "/", "")
	d := ruleengine.Decision{Action: "add_header", HeaderName: "X-Injected", HeaderValue: "1"}
	applyRuleDecision(f, d, ruleengine.DirectionRequest)
	if got := f.RequestHeaders.Get("X-Injected"); got != "1" {
		t.Fatalf("X-Injected = %q, want 1", got)
	}
	if !f.Modified {
		t.Fatalf("expected Modified to be set")
	}
}

func TestBuildUpstreamRequest_StripsHopByHopAndHost(t *testing.T) {
	f := flow.New(flow.SchemeHTTP, http.MethodGet, "example.com", 80, "/", "")
	f.RequestHeaders.Add("Connection", "keep-alive")
	f.RequestHeaders.Add("Host", "example.com")
	f.RequestHeaders.Add("X-Custom", "yes")

	req, err := buildUpstreamRequest(context.Background(), f)
	if err != nil {
		t.Fatalf("buildUpstreamRequest: %v", err)
	}
	if req.Header.Get("Connection") != "" {
		t.Fatalf("Connection header should have been stripped")
	}
	if req.Header.Get("X-Custom") != "yes" {
		t.Fatalf("X-Custom header should have been forwarded")
	}
}

func TestSplitHostPort_DefaultsByScheme(t *testing.T) {
	host, port := splitHostPort("example.com", flow.SchemeHTTP)
	if host != "example.com" || port != 80 {
		t.Fatalf("got %s:%d, want example.com:80", host, port)
	}
	host, port = splitHostPort("example.com", flow.SchemeHTTPS)
	if host != "example.com" || port != 443 {
		t.Fatalf("got %s:%d, want example.com:443", host, port)
	}
	host, port = splitHostPort("example.com:9443", flow.SchemeHTTPS)
	if host != "example.com" || port != 9443 {
		t.Fatalf("got %s:%d, want example.com:9443", host, port)
	}
}
