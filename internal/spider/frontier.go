// Package spider crawls a site breadth-first from one or more seed URLs:
// a canonicalizing, deduplicating frontier feeds a bounded pool of
// fetcher goroutines, each admitted URL is scope-filtered (depth,
// host, include/exclude patterns, robots.txt) before it is queued, and
// discovered links from successfully fetched HTML pages are folded
// back into the frontier at depth+1. Grounded on the teacher's
// internal/agent/registry.go RWMutex-guarded map-plus-bookkeeping shape
// (here: one frontier + one visited set per session) and on
// internal/dashboard/websocket.go's bounded-goroutine-pool idiom
// (here: fetcher workers instead of broadcast subscribers).
package spider

import (
	"container/heap"
	"net/url"
	"sort"
	"strings"
)

// frontierItem is one queued URL awaiting a fetch.
type frontierItem struct {
	url            string
	depth          int
	discoveryOrder int
	sourceURL      string
}

// frontierQueue is a priority queue ordered by (depth asc, discovery
// order asc), the BFS-by-depth order spec.md's spider crawl order
// requires.
type frontierQueue []*frontierItem

func (q frontierQueue) Len() int { return len(q) }
func (q frontierQueue) Less(i, j int) bool {
	if q[i].depth != q[j].depth {
		return q[i].depth < q[j].depth
	}
	return q[i].discoveryOrder < q[j].discoveryOrder
}
func (q frontierQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *frontierQueue) Push(x any)   { *q = append(*q, x.(*frontierItem)) }
func (q *frontierQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Frontier is the crawl work queue: a priority heap plus a seen-set
// keyed by canonical URL so no canonical URL is ever enqueued twice.
type Frontier struct {
	queue      frontierQueue
	seen       map[string]struct{}
	nextOrder  int
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{seen: make(map[string]struct{})}
}

// Offer admits rawURL at depth if its canonical form has not been seen
// before. Returns false if it was a duplicate.
func (f *Frontier) Offer(rawURL string, depth int, sourceURL string) bool {
	canon, err := Canonicalize(rawURL)
	if err != nil {
		return false
	}
	if _, ok := f.seen[canon]; ok {
		return false
	}
	f.seen[canon] = struct{}{}
	heap.Push(&f.queue, &frontierItem{
		url:            rawURL,
		depth:          depth,
		discoveryOrder: f.nextOrder,
		sourceURL:      sourceURL,
	})
	f.nextOrder++
	return true
}

// Pop removes and returns the next item in (depth, discovery order), or
// ok=false if the frontier is empty.
func (f *Frontier) Pop() (*frontierItem, bool) {
	if f.queue.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&f.queue).(*frontierItem), true
}

// Len reports how many items remain queued.
func (f *Frontier) Len() int { return f.queue.Len() }

// Canonicalize normalizes a URL for deduplication per spec.md's
// glossary: lowercased host, default port stripped, percent-encoding
// normalized, fragment dropped, query preserved but sorted by key.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Scheme, u.Host)

	// url.Parse already percent-decodes+re-encodes consistently through
	// u.String(); EscapedPath further normalizes case/escaping of the
	// path component.
	u.Path = u.EscapedPath()

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(k)
				sb.WriteByte('=')
				sb.WriteString(v)
			}
		}
		u.RawQuery = sb.String()
	}

	return u.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
