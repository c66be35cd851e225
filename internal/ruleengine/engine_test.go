package ruleengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/webintercept/proxycore/internal/flow"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	e, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, path
}

func TestEvaluate_NoMatchForwards(t *testing.T) {
	e, _ := newTestEngine(t)
	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/ok", "")
	d := e.EvaluateFlow(f, DirectionRequest)
	if d.Action != "forward" {
		t.Fatalf("expected forward, got %q", d.Action)
	}
}

func TestEvaluate_BuiltinMetadataHostBlocked(t *testing.T) {
	e, _ := newTestEngine(t)
	f := flow.New(flow.SchemeHTTP, "GET", "169.254.169.254", 80, "/latest/meta-data/", "")
	d := e.EvaluateFlow(f, DirectionRequest)
	if d.Action != "block" {
		t.Fatalf("expected block, got %q (rule=%s)", d.Action, d.Rule)
	}
	if d.Rule != "block_internal_metadata_host" {
		t.Fatalf("unexpected rule matched: %s", d.Rule)
	}
}

func TestEvaluate_CustomRuleFirstMatchWins(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.AddRule(`
name: block_admin_path
match:
  pathGlob: "/admin/**"
action: block
message: admin path blocked
`); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/admin/settings", "")
	d := e.EvaluateFlow(f, DirectionRequest)
	if d.Action != "block" || d.Rule != "block_admin_path" {
		t.Fatalf("expected block_admin_path, got action=%s rule=%s", d.Action, d.Rule)
	}

	other := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/public", "")
	d2 := e.EvaluateFlow(other, DirectionRequest)
	if d2.Action != "forward" {
		t.Fatalf("expected forward for non-matching path, got %s", d2.Action)
	}
}

func TestAddRule_PersistsAndReloads(t *testing.T) {
	e, path := newTestEngine(t)
	if err := e.AddRule(`
name: block_host
match:
  host: evil.example
action: block
`); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected rules file to be written: %v", err)
	}

	e2, err := New(path)
	if err != nil {
		t.Fatalf("reloading engine: %v", err)
	}
	if e2.CustomCount() != 1 {
		t.Fatalf("expected 1 custom rule after reload, got %d", e2.CustomCount())
	}
}

func TestRemoveRule_BuiltinRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.RemoveRule("block_internal_metadata_host"); err == nil {
		t.Fatal("expected error removing a builtin rule")
	}
}

func TestEvaluate_PriorityOrderingOverridesInsertionOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	// Added in this order, so without priority the second rule would win
	// on insertion order alone; priority should put the third-added rule
	// first instead.
	if err := e.AddRule("name: low\nmatch:\n  host: example.com\naction: block\nmessage: low\npriority: 50\n"); err != nil {
		t.Fatalf("AddRule low: %v", err)
	}
	if err := e.AddRule("name: mid\nmatch:\n  host: example.com\naction: block\nmessage: mid\npriority: 10\n"); err != nil {
		t.Fatalf("AddRule mid: %v", err)
	}
	if err := e.AddRule("name: high\nmatch:\n  host: example.com\naction: block\nmessage: high\npriority: 1\n"); err != nil {
		t.Fatalf("AddRule high: %v", err)
	}

	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/", "")
	d := e.EvaluateFlow(f, DirectionRequest)
	if d.Rule != "high" {
		t.Fatalf("expected rule %q (lowest priority) to win, got %q", "high", d.Rule)
	}
}

func TestSetRuleEnabled_TogglesCustomRule(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.AddRule("name: block_host\nmatch:\n  host: evil.example\naction: block\n"); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	f := flow.New(flow.SchemeHTTPS, "GET", "evil.example", 443, "/", "")
	if d := e.EvaluateFlow(f, DirectionRequest); d.Action != "block" {
		t.Fatalf("expected block before disabling, got %s", d.Action)
	}

	if err := e.SetRuleEnabled("block_host", false); err != nil {
		t.Fatalf("SetRuleEnabled: %v", err)
	}
	if d := e.EvaluateFlow(f, DirectionRequest); d.Action != "forward" {
		t.Fatalf("expected forward after disabling custom rule, got %s", d.Action)
	}

	if err := e.SetRuleEnabled("block_host", true); err != nil {
		t.Fatalf("SetRuleEnabled re-enable: %v", err)
	}
	if d := e.EvaluateFlow(f, DirectionRequest); d.Action != "block" {
		t.Fatalf("expected block after re-enabling custom rule, got %s", d.Action)
	}

	if err := e.SetRuleEnabled("does_not_exist", true); err == nil {
		t.Fatal("expected error toggling an unknown rule")
	}
}

func TestSetBuiltinToggle(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SetBuiltinToggle("block_internal_metadata_host", false); err != nil {
		t.Fatalf("SetBuiltinToggle: %v", err)
	}
	f := flow.New(flow.SchemeHTTP, "GET", "169.254.169.254", 80, "/", "")
	d := e.EvaluateFlow(f, DirectionRequest)
	if d.Action != "forward" {
		t.Fatalf("expected forward after disabling builtin, got %s", d.Action)
	}
}
