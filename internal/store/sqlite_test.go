package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/flow"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFlowStore_SaveGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/a", "")
	snap := f.Snapshot()

	if err := s.SaveFlow(ctx, snap); err != nil {
		t.Fatalf("SaveFlow: %v", err)
	}

	got, err := s.GetFlow(ctx, snap.ID.String())
	if err != nil {
		t.Fatalf("GetFlow: %v", err)
	}
	if got.Host != "example.com" || got.Method != "GET" {
		t.Fatalf("unexpected roundtrip: %+v", got)
	}
}

func TestFlowStore_ListFiltersByHostAndMethod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := flow.New(flow.SchemeHTTPS, "GET", "a.example", 443, "/", "")
	b := flow.New(flow.SchemeHTTPS, "POST", "b.example", 443, "/", "")
	for _, f := range []*flow.Flow{a, b} {
		if err := s.SaveFlow(ctx, f.Snapshot()); err != nil {
			t.Fatalf("SaveFlow: %v", err)
		}
	}

	got, err := s.ListFlows(ctx, FlowFilter{Host: "a.example"})
	if err != nil {
		t.Fatalf("ListFlows: %v", err)
	}
	if len(got) != 1 || got[0].Host != "a.example" {
		t.Fatalf("expected exactly one flow for a.example, got %+v", got)
	}
}

func TestFlowStore_GetMissingReturnsError(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetFlow(context.Background(), uuid.NewString()); err == nil {
		t.Fatal("expected error for missing flow")
	}
}

func TestScanStore_DedupesOnUniqueFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := ScanIssue{
		ID:        uuid.NewString(),
		CheckID:   "reflected-xss",
		URL:       "https://example.com/search?q=1",
		Parameter: "q",
		Evidence:  "<script>",
		FoundAt:   time.Now(),
	}

	created, err := s.SaveIssue(ctx, issue)
	if err != nil {
		t.Fatalf("SaveIssue: %v", err)
	}
	if !created {
		t.Fatal("expected first save to create a new row")
	}

	dup := issue
	dup.ID = uuid.NewString()
	created, err = s.SaveIssue(ctx, dup)
	if err != nil {
		t.Fatalf("SaveIssue dup: %v", err)
	}
	if created {
		t.Fatal("expected duplicate (check_id,url,parameter,evidence) to be ignored")
	}

	issues, err := s.ListIssues(ctx, issue.URL)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected exactly one deduplicated issue, got %d", len(issues))
	}
}

func TestAttackStore_StatusUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := Attack{ID: uuid.NewString(), Name: "test", Strategy: "sniper", Status: "configured", CreatedAt: time.Now()}
	if err := s.SaveAttack(ctx, a); err != nil {
		t.Fatalf("SaveAttack: %v", err)
	}
	if err := s.UpdateAttackStatus(ctx, a.ID, "running"); err != nil {
		t.Fatalf("UpdateAttackStatus: %v", err)
	}

	got, err := s.GetAttack(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttack: %v", err)
	}
	if got.Status != "running" {
		t.Fatalf("expected status running, got %q", got.Status)
	}
}
