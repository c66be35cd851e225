// Package store defines the persistence interfaces used by the proxy
// engine, intruder engine, spider engine, and scanner, plus a single
// SQLite-backed implementation shared by all of them — grounded on the
// teacher's internal/audit/index.go sqliteIndex: a blank-imported pure
// Go SQLite driver opened in WAL mode, a dynamic WHERE-clause query
// builder, and INSERT OR REPLACE upserts.
package store

import (
	"context"
	"time"

	"github.com/webintercept/proxycore/internal/flow"
)

// FlowFilter narrows FlowStore.List. Zero-valued fields are not
// applied as constraints.
type FlowFilter struct {
	Host       string
	Method     string
	StatusMin  int
	StatusMax  int
	Tag        string
	Since      time.Time
	Limit      int
}

// FlowStore persists flow snapshots.
type FlowStore interface {
	SaveFlow(ctx context.Context, snap flow.Snapshot) error
	GetFlow(ctx context.Context, id string) (flow.Snapshot, error)
	ListFlows(ctx context.Context, filter FlowFilter) ([]flow.Snapshot, error)
	DeleteFlow(ctx context.Context, id string) error
}

// Attack is one configured intruder run.
type Attack struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Strategy          string     `json:"strategy"`
	BaseRequest       []byte     `json:"base_request"`
	PayloadSets       [][]string `json:"payload_sets"`
	Positions         []string   `json:"positions"` // "start-end" byte offsets into BaseRequest
	Threads           int        `json:"threads"`
	DelayMs           int        `json:"delay_ms"`
	TimeoutSeconds    int        `json:"timeout_seconds"`
	FollowRedirects   bool       `json:"follow_redirects"`
	TotalRequests     int        `json:"total_requests"`
	CompletedRequests int        `json:"completed_requests"`
	Status            string     `json:"status"` // configured | running | paused | completed | error
	CreatedAt         time.Time  `json:"created_at"`
}

// AttackResult is one fired intruder request/response pair.
type AttackResult struct {
	AttackID      string    `json:"attack_id"`
	PositionIndex int       `json:"position_index"`
	Payloads      []string  `json:"payloads"`
	StatusCode    int       `json:"status_code"`
	ResponseBytes int64     `json:"response_bytes"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	FiredAt       time.Time `json:"fired_at"`
}

// AttackStore persists intruder attack configuration and results.
type AttackStore interface {
	SaveAttack(ctx context.Context, a Attack) error
	GetAttack(ctx context.Context, id string) (Attack, error)
	ListAttacks(ctx context.Context) ([]Attack, error)
	UpdateAttackStatus(ctx context.Context, id, status string) error
	SaveResult(ctx context.Context, r AttackResult) error
	ListResults(ctx context.Context, attackID string) ([]AttackResult, error)
}

// SpiderSession is one crawl run.
type SpiderSession struct {
	ID       string   `json:"id"`
	SeedURLs []string `json:"seed_urls"`
	Status   string   `json:"status"` // configured | running | paused | completed | error

	MaxDepth            int      `json:"max_depth"`
	MaxPages            int      `json:"max_pages"`
	FollowExternalLinks bool     `json:"follow_external_links"`
	RespectRobotsTxt    bool     `json:"respect_robots_txt"`
	IncludePatterns     []string `json:"include_patterns"`
	ExcludePatterns     []string `json:"exclude_patterns"`

	Threads int `json:"threads"`
	DelayMs int `json:"delay_ms"`

	CrawledCount int    `json:"crawled_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SpiderURL is one frontier/visited entry discovered during a crawl.
type SpiderURL struct {
	SessionID  string    `json:"session_id"`
	URL        string    `json:"url"`
	Depth      int       `json:"depth"`
	Status     string    `json:"status"` // queued | crawling | crawled | error | skipped
	SourceURL  string    `json:"source_url,omitempty"`
	LinksFound int       `json:"links_found"`
	FormsFound int       `json:"forms_found"`
	Error      string    `json:"error,omitempty"`
	FoundAt    time.Time `json:"found_at"`
}

// SpiderStore persists spider session and URL state.
type SpiderStore interface {
	SaveSession(ctx context.Context, s SpiderSession) error
	GetSession(ctx context.Context, id string) (SpiderSession, error)
	ListSessions(ctx context.Context) ([]SpiderSession, error)
	SaveURL(ctx context.Context, u SpiderURL) error
	ListURLs(ctx context.Context, sessionID string) ([]SpiderURL, error)
}

// ScanIssue is one finding from the scanner.
type ScanIssue struct {
	ID        string    `json:"id"`
	CheckID   string    `json:"check_id"`
	URL       string    `json:"url"`
	Parameter string    `json:"parameter,omitempty"`
	Severity  string    `json:"severity"`
	Evidence  string    `json:"evidence,omitempty"`
	FoundAt   time.Time `json:"found_at"`
}

// ScanStore persists scanner findings, deduplicated on
// (check_id, url, parameter, evidence).
type ScanStore interface {
	SaveIssue(ctx context.Context, i ScanIssue) (created bool, err error)
	ListIssues(ctx context.Context, url string) ([]ScanIssue, error)
}

// Store is the full persistence surface: every interface above backed
// by one SQLite database file.
type Store interface {
	FlowStore
	AttackStore
	SpiderStore
	ScanStore
	Close() error
}
