package spider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/metrics"
	"github.com/webintercept/proxycore/internal/store"
)

const defaultUserAgent = "proxycore-spider/1.0"

// Options configures a new Engine.
type Options struct {
	Client *http.Client
	Store  store.SpiderStore
	Bus    *eventbus.Bus
}

// Engine owns every configured crawl session, keyed by session ID.
type Engine struct {
	mu      sync.RWMutex
	runs    map[string]*run
	opts    Options
	robots  *RobotsCache
}

// New builds a spider Engine.
func New(opts Options) *Engine {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &Engine{
		runs:   make(map[string]*run),
		opts:   opts,
		robots: NewRobotsCache(opts.Client),
	}
}

type run struct {
	mu       sync.Mutex
	session  store.SpiderSession
	status   string
	crawled  int
	cancel   context.CancelFunc
	pauseGate chan struct{}

	frontier *Frontier
	scope    *Scope
}

// Configure validates a new crawl session and registers it in the
// "configured" state.
func (e *Engine) Configure(ctx context.Context, s store.SpiderSession) error {
	if len(s.SeedURLs) == 0 {
		return fmt.Errorf("spider: at least one seed URL is required")
	}
	seed, err := url.Parse(s.SeedURLs[0])
	if err != nil {
		return fmt.Errorf("spider: invalid seed URL %q: %w", s.SeedURLs[0], err)
	}

	scope, err := NewScope(seed.Hostname(), s.MaxDepth, s.FollowExternalLinks, s.IncludePatterns, s.ExcludePatterns, s.RespectRobotsTxt, e.robots)
	if err != nil {
		s.Status = "error"
		s.ErrorMessage = err.Error()
		e.persist(ctx, s)
		return err
	}

	frontier := NewFrontier()
	for _, seedURL := range s.SeedURLs {
		frontier.Offer(seedURL, 0, "")
	}

	s.Status = "configured"
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if err := e.persist(ctx, s); err != nil {
		return err
	}

	e.mu.Lock()
	e.runs[s.ID] = &run{
		session:   s,
		status:    "configured",
		frontier:  frontier,
		scope:     scope,
		pauseGate: closedChan(),
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) persist(ctx context.Context, s store.SpiderSession) error {
	if e.opts.Store == nil {
		return nil
	}
	return e.opts.Store.SaveSession(ctx, s)
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// Start begins crawling a configured session.
func (e *Engine) Start(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.status == "running" {
		r.mu.Unlock()
		return fmt.Errorf("spider: session %s is already running", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.status = "running"
	r.mu.Unlock()

	go e.drive(ctx, r)
	return nil
}

// Pause halts further dispatch after outstanding fetches complete.
func (e *Engine) Pause(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != "running" {
		return fmt.Errorf("spider: session %s is not running", id)
	}
	r.status = "paused"
	r.pauseGate = make(chan struct{})
	return nil
}

// Resume reopens the pause gate.
func (e *Engine) Resume(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != "paused" {
		return fmt.Errorf("spider: session %s is not paused", id)
	}
	r.status = "running"
	close(r.pauseGate)
	return nil
}

// Stop aborts the crawl immediately.
func (e *Engine) Stop(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.status != "running" && r.status != "paused" {
		r.mu.Unlock()
		return fmt.Errorf("spider: session %s is not active", id)
	}
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Status returns a snapshot of the session's current state.
func (e *Engine) Status(id string) (store.SpiderSession, error) {
	r, err := e.get(id)
	if err != nil {
		return store.SpiderSession{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	s.Status = r.status
	s.CrawledCount = r.crawled
	return s, nil
}

func (e *Engine) get(id string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("spider: session %s not found", id)
	}
	return r, nil
}

// drive owns one session's full crawl lifecycle: a bounded pool of
// fetcher goroutines pulls from the frontier via a work channel fed by
// a single dispatcher goroutine, pacing dispatches per delay_ms, until
// the frontier is empty, max_pages is reached, or ctx is canceled.
func (e *Engine) drive(ctx context.Context, r *run) {
	threads := r.session.Threads
	if threads <= 0 {
		threads = 1
	}

	var limiter *rate.Limiter
	if r.session.DelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(r.session.DelayMs)*time.Millisecond), 1)
	}

	work := make(chan *frontierItem)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				e.fetch(ctx, r, item)
			}
		}()
	}

	go func() {
		defer close(work)
		for {
			r.mu.Lock()
			if r.session.MaxPages > 0 && r.crawled >= r.session.MaxPages {
				r.mu.Unlock()
				return
			}
			item, ok := r.frontier.Pop()
			gate := r.pauseGate
			r.mu.Unlock()
			if !ok {
				return
			}

			select {
			case <-gate:
			case <-ctx.Done():
				return
			}

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}

			select {
			case work <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	r.mu.Lock()
	r.status = "completed"
	final := r.session
	final.Status = r.status
	final.CrawledCount = r.crawled
	r.mu.Unlock()

	if e.opts.Store != nil {
		e.opts.Store.SaveSession(context.Background(), final)
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Publish("spider_progress", final)
	}
}

func (e *Engine) fetch(ctx context.Context, r *run, item *frontierItem) {
	su := store.SpiderURL{
		SessionID: r.session.ID,
		URL:       item.url,
		Depth:     item.depth,
		SourceURL: item.sourceURL,
		FoundAt:   time.Now().UTC(),
	}

	admitted, reason := r.scope.Admit(item.url, item.depth, defaultUserAgent)
	if !admitted {
		su.Status = "skipped"
		su.Error = reason
		e.record(r, su)
		return
	}

	su.Status = "crawling"
	e.record(r, su)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.url, nil)
	if err != nil {
		su.Status = "error"
		su.Error = err.Error()
		e.record(r, su)
		return
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := e.opts.Client.Do(req)
	if err != nil {
		su.Status = "error"
		su.Error = err.Error()
		e.record(r, su)
		return
	}
	defer resp.Body.Close()

	su.Status = "crawled"

	if isHTML(resp.Header.Get("Content-Type")) && item.depth < r.scope.MaxDepth {
		base, _ := url.Parse(item.url)
		extracted := ExtractLinks(resp.Body, base)
		su.LinksFound = len(extracted.Links)
		su.FormsFound = extracted.FormsFound

		r.mu.Lock()
		for _, link := range extracted.Links {
			r.frontier.Offer(link, item.depth+1, item.url)
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.crawled++
	r.mu.Unlock()
	metrics.IncSpiderPageCrawled()

	e.record(r, su)
}

func (e *Engine) record(r *run, su store.SpiderURL) {
	if e.opts.Store != nil {
		e.opts.Store.SaveURL(context.Background(), su)
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Publish("spider_url", su)
	}
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
