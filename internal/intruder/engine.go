// Package intruder runs payload-set combinatorial attacks against a
// captured base request: it expands the chosen strategy into an ordered
// list of assignments, dispatches them through a bounded worker pool
// with pacing between dispatches, and records one result per assignment
// regardless of whether the individual request succeeded. Grounded on
// the teacher's internal/agent registry.go (RWMutex-guarded map of
// named entities, each with its own bookkeeping, touched concurrently
// from many goroutines) generalized from per-agent stats to per-attack
// run state.
package intruder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/metrics"
	"github.com/webintercept/proxycore/internal/store"
)

// Options configures a new Engine.
type Options struct {
	Client *http.Client
	Store  store.AttackStore
	Bus    *eventbus.Bus
	// Scheme is used to build an absolute URL when a rendered request's
	// request line is in origin-form (the common case for a request
	// captured off an intercepted flow).
	Scheme string
}

// Engine owns every configured attack run, keyed by attack ID.
type Engine struct {
	mu   sync.RWMutex
	runs map[string]*run
	opts Options
}

type run struct {
	mu          sync.Mutex
	attack      store.Attack
	positions   []Position
	assignments []Assignment
	status      string
	completed   int
	cancel      context.CancelFunc
	pauseGate   chan struct{} // closed = running, open = paused (dispatcher blocks on it)
}

// New builds an Engine.
func New(opts Options) *Engine {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	return &Engine{runs: make(map[string]*run), opts: opts}
}

// Configure validates and registers a new attack run in the
// "configured" state, ready for Start. An invalid template, position
// set, or payload-set/strategy mismatch is recorded as attack status
// "error" and returned as an error.
func (e *Engine) Configure(ctx context.Context, a store.Attack) error {
	positions, err := ParsePositions(a.Positions)
	if err != nil {
		a.Status = "error"
		e.persist(ctx, a)
		return err
	}

	assignments, err := Expand(Strategy(a.Strategy), positions, a.PayloadSets)
	if err != nil {
		a.Status = "error"
		e.persist(ctx, a)
		return err
	}

	a.TotalRequests = len(assignments)
	a.CompletedRequests = 0
	a.Status = "configured"
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := e.persist(ctx, a); err != nil {
		return err
	}

	e.mu.Lock()
	e.runs[a.ID] = &run{
		attack:      a,
		positions:   positions,
		assignments: assignments,
		status:      "configured",
		pauseGate:   closedChan(),
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) persist(ctx context.Context, a store.Attack) error {
	if e.opts.Store == nil {
		return nil
	}
	return e.opts.Store.SaveAttack(ctx, a)
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// Start begins dispatching a configured attack's assignments. Resuming
// from a previous Stop is not supported — Start always runs the full
// assignment list from the beginning.
func (e *Engine) Start(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.status == "running" {
		r.mu.Unlock()
		return fmt.Errorf("intruder: attack %s is already running", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.status = "running"
	r.completed = 0
	r.mu.Unlock()

	go e.drive(ctx, r)
	return nil
}

// Pause halts further dispatch after outstanding in-flight requests
// complete; workers idle rather than exit.
func (e *Engine) Pause(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != "running" {
		return fmt.Errorf("intruder: attack %s is not running", id)
	}
	r.status = "paused"
	r.pauseGate = make(chan struct{})
	return nil
}

// Resume reopens the pause gate so the dispatcher continues from where
// it left off.
func (e *Engine) Resume(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != "paused" {
		return fmt.Errorf("intruder: attack %s is not paused", id)
	}
	r.status = "running"
	close(r.pauseGate)
	return nil
}

// Stop aborts outstanding work and finalizes the attack immediately.
func (e *Engine) Stop(id string) error {
	r, err := e.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.status != "running" && r.status != "paused" {
		r.mu.Unlock()
		return fmt.Errorf("intruder: attack %s is not active", id)
	}
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Status returns a snapshot of the attack's current configuration and
// run state.
func (e *Engine) Status(id string) (store.Attack, error) {
	r, err := e.get(id)
	if err != nil {
		return store.Attack{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.attack
	a.Status = r.status
	a.CompletedRequests = r.completed
	return a, nil
}

func (e *Engine) get(id string) (*run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("intruder: attack %s not found", id)
	}
	return r, nil
}

// drive owns one attack's full lifecycle: a single dispatcher goroutine
// feeds a work channel consumed by a bounded pool of worker goroutines,
// pacing dispatches (not completions) per delay_ms and respecting the
// pause gate between each one.
func (e *Engine) drive(ctx context.Context, r *run) {
	threads := r.attack.Threads
	if threads <= 0 {
		threads = 1
	}

	var limiter *rate.Limiter
	if r.attack.DelayMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(r.attack.DelayMs)*time.Millisecond), 1)
	}

	work := make(chan Assignment)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range work {
				e.dispatch(ctx, r, a)
			}
		}()
	}

	go func() {
		defer close(work)
		for _, a := range r.assignments {
			r.mu.Lock()
			gate := r.pauseGate
			r.mu.Unlock()

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
			case work <- a:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	r.mu.Lock()
	r.status = "completed"
	final := r.attack
	final.Status = r.status
	final.CompletedRequests = r.completed
	r.mu.Unlock()

	if e.opts.Store != nil {
		e.opts.Store.UpdateAttackStatus(context.Background(), r.attack.ID, final.Status)
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Publish("intruder_progress", final)
	}
}

func (e *Engine) dispatch(ctx context.Context, r *run, a Assignment) {
	result := store.AttackResult{
		AttackID:      r.attack.ID,
		PositionIndex: a.Index,
		FiredAt:       time.Now().UTC(),
	}
	for _, p := range a.Payloads {
		if p != nil {
			result.Payloads = append(result.Payloads, *p)
		}
	}

	req, _, err := Render(r.attack.BaseRequest, r.positions, a, e.opts.Scheme)
	if err != nil {
		result.Error = err.Error()
	} else {
		req = req.WithContext(ctx)
		start := time.Now()
		resp, doErr := e.opts.Client.Do(req)
		result.DurationMs = time.Since(start).Milliseconds()
		if doErr != nil {
			result.Error = doErr.Error()
		} else {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			result.StatusCode = resp.StatusCode
			result.ResponseBytes = int64(len(body))
		}
	}

	if e.opts.Store != nil {
		if err := e.opts.Store.SaveResult(context.Background(), result); err != nil {
			slog.Error("intruder: failed to save attack result", "attack_id", r.attack.ID, "position", a.Index, "error", err)
			metrics.IncStorageError("intruder_result")
		}
	}

	r.mu.Lock()
	r.completed++
	completed := r.completed
	total := len(r.assignments)
	r.mu.Unlock()

	outcome := "ok"
	if result.Error != "" {
		outcome = "error"
	}
	metrics.ObserveIntruderRequest(r.attack.Strategy, outcome)

	if e.opts.Bus != nil {
		e.opts.Bus.Publish("intruder_result", result)
		e.opts.Bus.Publish("intruder_progress", map[string]any{
			"attack_id": r.attack.ID,
			"completed": completed,
			"total":     total,
		})
	}
}
