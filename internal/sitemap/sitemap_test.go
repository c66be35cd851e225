package sitemap

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/store"
)

type memFlowStore struct {
	flows []flow.Snapshot
}

func (m *memFlowStore) SaveFlow(_ context.Context, snap flow.Snapshot) error {
	m.flows = append(m.flows, snap)
	return nil
}
func (m *memFlowStore) GetFlow(_ context.Context, id string) (flow.Snapshot, error) {
	for _, f := range m.flows {
		if f.ID.String() == id {
			return f, nil
		}
	}
	return flow.Snapshot{}, nil
}
func (m *memFlowStore) ListFlows(_ context.Context, _ store.FlowFilter) ([]flow.Snapshot, error) {
	return m.flows, nil
}
func (m *memFlowStore) DeleteFlow(_ context.Context, _ string) error { return nil }

func snap(method, host, path, query string, status int) flow.Snapshot {
	return flow.Snapshot{
		ID:             uuid.New(),
		Method:         method,
		Host:           host,
		Path:           path,
		Query:          query,
		ResponseStatus: status,
	}
}

func TestRebuildBuildsPathTree(t *testing.T) {
	fs := &memFlowStore{flows: []flow.Snapshot{
		snap("GET", "example.com", "/a/b/c", "x=1", 200),
		snap("POST", "example.com", "/a/b/c", "", 201),
		snap("GET", "example.com", "/a", "", 404),
	}}
	b := New(fs)
	if err := b.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	tree := b.Tree("example.com")
	if len(tree.Children) != 1 || tree.Children[0].Path != "/a" {
		t.Fatalf("expected single top-level child /a, got %+v", tree.Children)
	}

	a := tree.Children[0]
	if len(a.StatusCodes) != 1 || a.StatusCodes[0] != 404 {
		t.Errorf("/a status codes = %v, want [404]", a.StatusCodes)
	}

	b2 := a.Children[0]
	if b2.Path != "/a/b" {
		t.Fatalf("expected /a/b, got %s", b2.Path)
	}
	c := b2.Children[0]
	if c.Path != "/a/b/c" {
		t.Fatalf("expected /a/b/c, got %s", c.Path)
	}
	if len(c.Methods) != 2 {
		t.Errorf("/a/b/c methods = %v, want [GET POST]", c.Methods)
	}
	if len(c.Parameters) != 1 || c.Parameters[0] != "x" {
		t.Errorf("/a/b/c parameters = %v, want [x]", c.Parameters)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	fs := &memFlowStore{flows: []flow.Snapshot{
		snap("GET", "example.com", "/a", "", 200),
	}}
	b := New(fs)
	b.Rebuild(context.Background())
	first := b.Tree("example.com")
	b.Rebuild(context.Background())
	second := b.Tree("example.com")

	if len(first.Children) != len(second.Children) {
		t.Fatalf("rebuild changed child count: %d vs %d", len(first.Children), len(second.Children))
	}
}

func TestObserveIncremental(t *testing.T) {
	b := New(&memFlowStore{})
	b.Observe(snap("GET", "example.com", "/x", "", 200))
	b.Observe(snap("GET", "example.com", "/y", "", 200))

	tree := b.Tree("example.com")
	if len(tree.Children) != 2 {
		t.Fatalf("expected 2 top-level children, got %d", len(tree.Children))
	}
}

func TestHostsSorted(t *testing.T) {
	b := New(&memFlowStore{})
	b.Observe(snap("GET", "zeta.example", "/", "", 200))
	b.Observe(snap("GET", "alpha.example", "/", "", 200))

	hosts := b.Hosts()
	if len(hosts) != 2 || hosts[0] != "alpha.example" || hosts[1] != "zeta.example" {
		t.Fatalf("Hosts() = %v, want sorted [alpha.example zeta.example]", hosts)
	}
}
