// Package intercept coordinates manual pause/inspect/forward decisions
// on in-flight flows. It generalizes the teacher's dashboard wsHub
// single-owner-goroutine pattern from a fan-out broadcaster to a
// request/response rendezvous: each pending flow gets a "slot" with its
// own completion channel, and exactly one consumer (a human operator
// via the API, or the coordinator's own timeout) resolves it.
package intercept

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/metrics"
)

// Phase identifies which side of a flow a slot is pausing.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// DecisionAction is what an operator (or a timeout) resolves a slot
// with.
type DecisionAction string

const (
	ActionForward DecisionAction = "forward"
	ActionDrop    DecisionAction = "drop"
	ActionModify  DecisionAction = "modify"
)

// Decision resolves a pending slot.
type Decision struct {
	Action          DecisionAction
	ModifiedHeaders *flow.Header
	ModifiedBody    []byte
}

// Slot is one pending, awaiting-decision flow side.
type Slot struct {
	ID        uuid.UUID
	FlowID    uuid.UUID
	Phase     Phase
	Snapshot  flow.Snapshot
	CreatedAt time.Time

	done chan Decision
}

// Coordinator holds the FIFO of pending slots per phase and the
// single-consumer completion channel for each.
type Coordinator struct {
	mu      sync.Mutex
	enabled bool
	timeout time.Duration
	bus     *eventbus.Bus

	pending map[uuid.UUID]*Slot
	order   []uuid.UUID // FIFO across both phases, oldest first
}

// New creates a Coordinator. enabled controls whether Submit actually
// pauses flows or passes them straight through; timeout is the
// auto-forward deadline for a slot nobody decides on, or zero to wait
// indefinitely for an operator decision or shutdown. bus, if non-nil,
// receives an "intercept" event every time a new slot is opened, so
// WebSocket clients can observe a pending decision without polling
// the list endpoint.
func New(enabled bool, timeout time.Duration, bus *eventbus.Bus) *Coordinator {
	return &Coordinator{
		enabled: enabled,
		timeout: timeout,
		bus:     bus,
		pending: make(map[uuid.UUID]*Slot),
	}
}

// Enabled reports whether interception is currently active.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled toggles interception globally.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Submit pauses the flow side described by snap/phase until a decision
// arrives, the coordinator's timeout elapses, or ctx is canceled. If
// interception is disabled, Submit returns ActionForward immediately
// without creating a slot.
func (c *Coordinator) Submit(ctx context.Context, flowID uuid.UUID, phase Phase, snap flow.Snapshot) (Decision, error) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return Decision{Action: ActionForward}, nil
	}

	slot := &Slot{
		ID:        uuid.New(),
		FlowID:    flowID,
		Phase:     phase,
		Snapshot:  snap,
		CreatedAt: time.Now(),
		done:      make(chan Decision, 1),
	}
	c.pending[slot.ID] = slot
	c.order = append(c.order, slot.ID)
	metrics.SetInterceptQueueDepth(len(c.order))
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish("intercept", *slot)
	}

	var timeoutC <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case d := <-slot.done:
		metrics.ObserveInterceptWait(time.Since(slot.CreatedAt))
		return d, nil
	case <-timeoutC:
		c.remove(slot.ID)
		metrics.ObserveInterceptWait(time.Since(slot.CreatedAt))
		return Decision{Action: ActionForward}, nil
	case <-ctx.Done():
		c.remove(slot.ID)
		return Decision{}, ctx.Err()
	}
}

// List returns pending slots in FIFO order.
func (c *Coordinator) List() []Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Slot, 0, len(c.order))
	for _, id := range c.order {
		if s, ok := c.pending[id]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Decide resolves the named slot exactly once. Resolving a slot that no
// longer exists (already decided, timed out, or canceled) returns an
// error rather than a silent no-op.
func (c *Coordinator) Decide(slotID uuid.UUID, d Decision) error {
	c.mu.Lock()
	slot, ok := c.pending[slotID]
	if ok {
		delete(c.pending, slotID)
		c.removeFromOrderLocked(slotID)
		metrics.SetInterceptQueueDepth(len(c.order))
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("intercept slot %s not found or already resolved", slotID)
	}

	select {
	case slot.done <- d:
	default:
		return fmt.Errorf("intercept slot %s already resolved", slotID)
	}
	return nil
}

// Shutdown resolves every pending slot as forward, so in-flight
// requests are not left hanging when the proxy stops.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	ids := append([]uuid.UUID(nil), c.order...)
	c.order = nil
	slots := make([]*Slot, 0, len(ids))
	for _, id := range ids {
		if s, ok := c.pending[id]; ok {
			slots = append(slots, s)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, s := range slots {
		select {
		case s.done <- Decision{Action: ActionForward}:
		default:
		}
	}
}

func (c *Coordinator) remove(id uuid.UUID) {
	c.mu.Lock()
	delete(c.pending, id)
	c.removeFromOrderLocked(id)
	metrics.SetInterceptQueueDepth(len(c.order))
	c.mu.Unlock()
}

func (c *Coordinator) removeFromOrderLocked(id uuid.UUID) {
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// PendingCount reports the current queue depth, for internal/metrics.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
