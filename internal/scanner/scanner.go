// Package scanner runs a pipeline of passive and active checks over
// recorded flows (or bare URLs) and emits deduplicated ScanIssues.
// Grounded on the teacher's internal/engine rule-evaluation loop
// (ordered matchers run over a common input, each independently
// deciding whether to fire) retargeted from "match a tool call against
// a guardrail" to "run a security check against a flow".
package scanner

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/metrics"
	"github.com/webintercept/proxycore/internal/store"
)

// Category distinguishes checks that only read a recorded flow from
// checks that issue additional live probes.
type Category string

const (
	CategoryPassive Category = "passive"
	CategoryActive  Category = "active"
)

// Finding is one match produced by a Check.
type Finding struct {
	Parameter string
	Severity  string // info | low | medium | high | critical
	Evidence  string
}

// Check is one scanner rule. Passive checks only read snap; active
// checks may additionally issue requests via client.
type Check struct {
	ID       string
	Category Category
	Run      func(ctx context.Context, client *http.Client, snap flow.Snapshot) []Finding
}

// Options configures a new Scanner.
type Options struct {
	Client      *http.Client
	Store       store.ScanStore
	Bus         *eventbus.Bus
	Concurrency int
}

// Scanner evaluates enabled checks against supplied flows.
type Scanner struct {
	opts   Options
	checks []Check
}

// New builds a Scanner with checks (by default, BuiltinChecks()).
func New(opts Options, checks []Check) *Scanner {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if checks == nil {
		checks = BuiltinChecks()
	}
	return &Scanner{opts: opts, checks: checks}
}

// ScanFlow runs every enabled check against snap, up to the configured
// concurrency cap, persisting and publishing each new finding.
// Idempotent: re-scanning the same flow does not duplicate issues for
// an identical (check_id, url, parameter, evidence) tuple — the store
// dedupes on that key and updates last_seen instead.
func (s *Scanner) ScanFlow(ctx context.Context, snap flow.Snapshot) ([]store.ScanIssue, error) {
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var issues []store.ScanIssue
	var firstErr error

	for _, check := range s.checks {
		check := check
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			findings := check.Run(ctx, s.opts.Client, snap)
			for _, f := range findings {
				issue := store.ScanIssue{
					ID:        uuid.New().String(),
					CheckID:   check.ID,
					URL:       urlOf(snap),
					Parameter: f.Parameter,
					Severity:  f.Severity,
					Evidence:  f.Evidence,
					FoundAt:   time.Now().UTC(),
				}
				created, err := s.save(ctx, issue)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("saving scan issue: %w", err)
					}
					mu.Unlock()
					continue
				}
				if created {
					mu.Lock()
					issues = append(issues, issue)
					mu.Unlock()
					metrics.ObserveScanIssue(issue.Severity)
					if s.opts.Bus != nil {
						s.opts.Bus.Publish("scan_progress", issue)
					}
				}
			}
		}()
	}
	wg.Wait()
	return issues, firstErr
}

func (s *Scanner) save(ctx context.Context, issue store.ScanIssue) (bool, error) {
	if s.opts.Store == nil {
		return true, nil
	}
	return s.opts.Store.SaveIssue(ctx, issue)
}

func urlOf(snap flow.Snapshot) string {
	scheme := string(snap.Scheme)
	host := snap.Host
	if snap.Port != 0 {
		host = fmt.Sprintf("%s:%d", host, snap.Port)
	}
	u := scheme + "://" + host + snap.Path
	if snap.Query != "" {
		u += "?" + snap.Query
	}
	return u
}
