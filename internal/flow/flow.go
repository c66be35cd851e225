// Package flow defines the central recorded transaction type shared by
// every other package in this module: the proxy engine builds one per
// request, the rule engine and intercept coordinator mutate it in place,
// and the recorder persists it exactly once after it is finalized.
package flow

import (
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheme is the wire scheme a Flow was observed under.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeWS    Scheme = "ws"
	SchemeWSS   Scheme = "wss"
)

// Header is an ordered, case-insensitive multimap. Unlike http.Header it
// preserves both the original casing and the insertion order of each
// value, because spec invariant requires header order and multiplicity
// to survive a round-trip through the proxy.
type Header struct {
	keys   []string            // canonical (lowercase) key, in first-seen order
	values map[string][]kv     // canonical key -> ordered (original-case, value) pairs
}

type kv struct {
	name  string
	value string
}

// NewHeader returns an empty ordered header multimap.
func NewHeader() *Header {
	return &Header{values: make(map[string][]kv)}
}

// Add appends a value under name, preserving the original casing supplied
// on the wire and the order in which values arrived.
func (h *Header) Add(name, value string) {
	canon := strings.ToLower(name)
	if _, ok := h.values[canon]; !ok {
		h.keys = append(h.keys, canon)
	}
	h.values[canon] = append(h.values[canon], kv{name: name, value: value})
}

// Set replaces all values under name with a single value.
func (h *Header) Set(name, value string) {
	canon := strings.ToLower(name)
	if _, ok := h.values[canon]; !ok {
		h.keys = append(h.keys, canon)
	}
	h.values[canon] = []kv{{name: name, value: value}}
}

// Del removes all values under name.
func (h *Header) Del(name string) {
	canon := strings.ToLower(name)
	if _, ok := h.values[canon]; !ok {
		return
	}
	delete(h.values, canon)
	for i, k := range h.keys {
		if k == canon {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Get returns the first value under name, or "" if absent.
func (h *Header) Get(name string) string {
	vs := h.values[strings.ToLower(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0].value
}

// Values returns all values under name in arrival order.
func (h *Header) Values(name string) []string {
	vs := h.values[strings.ToLower(name)]
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.value
	}
	return out
}

// Has reports whether name has at least one value.
func (h *Header) Has(name string) bool {
	return len(h.values[strings.ToLower(name)]) > 0
}

// Each calls fn for every (original-case name, value) pair in wire order.
func (h *Header) Each(fn func(name, value string)) {
	for _, canon := range h.keys {
		for _, p := range h.values[canon] {
			fn(p.name, p.value)
		}
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := NewHeader()
	h.Each(c.Add)
	return c
}

// CanonicalKey exposes textproto's canonicalization for callers that need
// to compare header names the way net/http does internally.
func CanonicalKey(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

// WSFrame records one spliced WebSocket frame on a Flow.
type WSFrame struct {
	Seq       uint64
	Timestamp time.Time
	Opcode    int    // 1=text, 2=binary, 8=close, 9=ping, 10=pong
	Direction string // "client_to_upstream" | "upstream_to_client"
	Payload   []byte
	Truncated bool
}

// Flow is one recorded client<->upstream transaction.
//
// Lifecycle: created when the request line arrives, mutated by the rule
// engine and intercept coordinator, finalized when the response is fully
// received (or an error is recorded), recorded exactly once, and
// immutable thereafter. Concurrent access during the mutable phase is
// guarded by mu; once Finalized is true callers must treat the Flow as
// read-only and should Clone() before further use to avoid racing the
// recorder.
type Flow struct {
	mu sync.Mutex

	ID        uuid.UUID
	Timestamp time.Time
	Scheme    Scheme
	Method    string
	Host      string
	Port      int
	Path      string
	Query     string

	RequestHeaders  *Header
	RequestBody     []byte
	RequestTruncatedBytes int64

	ResponseStatus  int
	ResponseReason  string
	ResponseHeaders *Header
	ResponseBody    []byte
	ResponseTruncatedBytes int64

	DurationMs int64

	Intercepted bool
	Modified    bool
	Tags        map[string]struct{}
	IsWebSocket bool
	WSFrames    []WSFrame

	Error       string
	ClientAborted bool

	Finalized bool
}

// New creates a Flow with a fresh ID and the current timestamp, as the
// proxy engine does the instant a request line is parsed.
func New(scheme Scheme, method, host string, port int, path, query string) *Flow {
	return &Flow{
		ID:              uuid.New(),
		Timestamp:       time.Now().UTC(),
		Scheme:          scheme,
		Method:          method,
		Host:            host,
		Port:            port,
		Path:            path,
		Query:           query,
		RequestHeaders:  NewHeader(),
		ResponseHeaders: NewHeader(),
		Tags:            make(map[string]struct{}),
	}
}

// URL reconstructs scheme://host[:port]path?query for rule matching and
// display, matching the canonicalization spec.md's rule-engine §4.4
// "url" match type expects.
func (f *Flow) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urlLocked()
}

func (f *Flow) urlLocked() string {
	host := f.Host
	if f.Port != 0 && !defaultPort(f.Scheme, f.Port) {
		host = host + ":" + itoa(f.Port)
	}
	u := string(f.Scheme) + "://" + host + f.Path
	if f.Query != "" {
		u += "?" + f.Query
	}
	return u
}

func defaultPort(s Scheme, port int) bool {
	switch s {
	case SchemeHTTP, SchemeWS:
		return port == 80
	case SchemeHTTPS, SchemeWSS:
		return port == 443
	}
	return false
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

// AddTag adds a tag, idempotently.
func (f *Flow) AddTag(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tags[tag] = struct{}{}
}

// TagList returns tags as a sorted-free slice (callers that need
// determinism should sort.Strings the result).
func (f *Flow) TagList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Tags))
	for t := range f.Tags {
		out = append(out, t)
	}
	return out
}

// MarkModified flips Modified to true. Called by the rule engine and
// intercept coordinator whenever they apply a mutation.
func (f *Flow) MarkModified() {
	f.mu.Lock()
	f.Modified = true
	f.mu.Unlock()
}

// Finalize marks the flow complete and records total duration. Safe to
// call once; subsequent calls are no-ops, matching the "recorded exactly
// once, immutable thereafter" invariant.
func (f *Flow) Finalize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Finalized {
		return
	}
	f.DurationMs = time.Since(f.Timestamp).Milliseconds()
	f.Finalized = true
}

// AppendWSFrame records one spliced WebSocket frame.
func (f *Flow) AppendWSFrame(fr WSFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr.Seq = uint64(len(f.WSFrames))
	f.WSFrames = append(f.WSFrames, fr)
}

// Snapshot is the serialized, detached view of a Flow handed to the
// intercept coordinator and to API consumers. It never aliases the
// live Flow's mutable state.
type Snapshot struct {
	ID              uuid.UUID         `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Scheme          Scheme            `json:"scheme"`
	Method          string            `json:"method"`
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	Path            string            `json:"path"`
	Query           string            `json:"query"`
	RequestHeaders  map[string][]string `json:"request_headers"`
	RequestBody     []byte            `json:"request_body"`
	ResponseStatus  int               `json:"response_status"`
	ResponseReason  string            `json:"response_reason"`
	ResponseHeaders map[string][]string `json:"response_headers"`
	ResponseBody    []byte            `json:"response_body"`
	DurationMs      int64             `json:"duration_ms"`
	Intercepted     bool              `json:"intercepted"`
	Modified        bool              `json:"modified"`
	Tags            []string          `json:"tags"`
	IsWebSocket     bool              `json:"is_websocket"`
	WSFrames        []WSFrame         `json:"ws_frames,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Snapshot takes a point-in-time, deep copy of the Flow for handoff to
// the intercept coordinator or the REST API.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	tags := make([]string, 0, len(f.Tags))
	for t := range f.Tags {
		tags = append(tags, t)
	}

	return Snapshot{
		ID:              f.ID,
		Timestamp:       f.Timestamp,
		Scheme:          f.Scheme,
		Method:          f.Method,
		Host:            f.Host,
		Port:            f.Port,
		Path:            f.Path,
		Query:           f.Query,
		RequestHeaders:  headerMap(f.RequestHeaders),
		RequestBody:     append([]byte(nil), f.RequestBody...),
		ResponseStatus:  f.ResponseStatus,
		ResponseReason:  f.ResponseReason,
		ResponseHeaders: headerMap(f.ResponseHeaders),
		ResponseBody:    append([]byte(nil), f.ResponseBody...),
		DurationMs:      f.DurationMs,
		Intercepted:     f.Intercepted,
		Modified:        f.Modified,
		Tags:            tags,
		IsWebSocket:     f.IsWebSocket,
		WSFrames:        append([]WSFrame(nil), f.WSFrames...),
		Error:           f.Error,
	}
}

func headerMap(h *Header) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string)
	h.Each(func(name, value string) {
		out[name] = append(out[name], value)
	})
	return out
}
