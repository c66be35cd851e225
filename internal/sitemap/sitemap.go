// Package sitemap derives a per-host path tree from recorded flows. A
// path like /a/b/c?x=1 contributes nodes /a, /a/b, /a/b/c, with query
// parameter names merged into the leaf's parameter set and the
// methods/status codes observed on it accumulating on that leaf.
//
// Grounded on the teacher's internal/agent/registry.go Save pattern: a
// full-state rewrite under one lock rather than incremental patching,
// here retargeted from "rewrite a YAML file of agent state" to
// "rebuild an in-memory tree from the flow store".
package sitemap

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/store"
)

// Node is one path segment's accumulated observations.
type Node struct {
	Path       string
	Children   map[string]*Node
	Methods    map[string]struct{}
	StatusCodes map[int]struct{}
	Parameters map[string]struct{}
}

func newNode(path string) *Node {
	return &Node{
		Path:        path,
		Children:    make(map[string]*Node),
		Methods:     make(map[string]struct{}),
		StatusCodes: make(map[int]struct{}),
		Parameters:  make(map[string]struct{}),
	}
}

// NodeView is a JSON-friendly, deterministic snapshot of a Node.
type NodeView struct {
	Path        string      `json:"path"`
	Methods     []string    `json:"methods"`
	StatusCodes []int       `json:"status_codes"`
	Parameters  []string    `json:"parameters"`
	Children    []NodeView  `json:"children"`
}

func (n *Node) view() NodeView {
	v := NodeView{
		Path:        n.Path,
		Methods:     sortedKeys(n.Methods),
		StatusCodes: sortedInts(n.StatusCodes),
		Parameters:  sortedKeys(n.Parameters),
	}
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v.Children = append(v.Children, n.Children[name].view())
	}
	return v
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedInts(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Builder owns one path tree per host. Rebuild is idempotent: calling
// it twice with the same flow set produces the same tree.
type Builder struct {
	mu    sync.RWMutex
	hosts map[string]*Node
	fs    store.FlowStore
}

// New builds a sitemap Builder backed by fs.
func New(fs store.FlowStore) *Builder {
	return &Builder{hosts: make(map[string]*Node), fs: fs}
}

// Rebuild re-derives every host's tree from scratch by listing all
// recorded flows. O(N) over recorded flows.
func (b *Builder) Rebuild(ctx context.Context) error {
	flows, err := b.fs.ListFlows(ctx, store.FlowFilter{})
	if err != nil {
		return err
	}

	hosts := make(map[string]*Node)
	for _, snap := range flows {
		root, ok := hosts[snap.Host]
		if !ok {
			root = newNode("/")
			hosts[snap.Host] = root
		}
		applySnapshot(root, snap)
	}

	b.mu.Lock()
	b.hosts = hosts
	b.mu.Unlock()
	return nil
}

// Observe folds a single flow into its host's tree without a full
// rebuild, the incremental path the recorder takes on every write.
func (b *Builder) Observe(snap flow.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	root, ok := b.hosts[snap.Host]
	if !ok {
		root = newNode("/")
		b.hosts[snap.Host] = root
	}
	applySnapshot(root, snap)
}

func applySnapshot(root *Node, snap flow.Snapshot) {
	segments := splitPath(snap.Path)
	cur := root
	var built strings.Builder
	for _, seg := range segments {
		built.WriteByte('/')
		built.WriteString(seg)
		child, ok := cur.Children[seg]
		if !ok {
			child = newNode(built.String())
			cur.Children[seg] = child
		}
		cur = child
	}
	cur.Methods[snap.Method] = struct{}{}
	if snap.ResponseStatus != 0 {
		cur.StatusCodes[snap.ResponseStatus] = struct{}{}
	}
	for _, param := range queryParamNames(snap.Query) {
		cur.Parameters[param] = struct{}{}
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func queryParamNames(query string) []string {
	if query == "" {
		return nil
	}
	pairs := strings.Split(query, "&")
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p == "" {
			continue
		}
		name := p
		if i := strings.IndexByte(p, '='); i >= 0 {
			name = p[:i]
		}
		names = append(names, name)
	}
	return names
}

// Tree returns a deterministic, JSON-serializable view of host's tree,
// or the empty view if the host has never been observed.
func (b *Builder) Tree(host string) NodeView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	root, ok := b.hosts[host]
	if !ok {
		return NodeView{Path: "/"}
	}
	return root.view()
}

// Hosts returns every host with an accumulated tree, sorted.
func (b *Builder) Hosts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
