package intercept

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/webintercept/proxycore/internal/flow"
)

func TestSubmit_DisabledForwardsImmediately(t *testing.T) {
	c := New(false, time.Second, nil)
	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/", "")
	d, err := c.Submit(context.Background(), f.ID, PhaseRequest, f.Snapshot())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if d.Action != ActionForward {
		t.Fatalf("expected forward when disabled, got %s", d.Action)
	}
}

func TestSubmit_DecideResolvesExactlyOnce(t *testing.T) {
	c := New(true, time.Minute, nil)
	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/", "")

	resultCh := make(chan Decision, 1)
	go func() {
		d, err := c.Submit(context.Background(), f.ID, PhaseRequest, f.Snapshot())
		if err != nil {
			t.Error(err)
			return
		}
		resultCh <- d
	}()

	var slotID uuid.UUID
	for {
		slots := c.List()
		if len(slots) == 1 {
			slotID = slots[0].ID
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Decide(slotID, Decision{Action: ActionDrop}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	select {
	case d := <-resultCh:
		if d.Action != ActionDrop {
			t.Fatalf("expected drop decision, got %s", d.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Submit to return")
	}

	if err := c.Decide(slotID, Decision{Action: ActionForward}); err == nil {
		t.Fatal("expected error resolving an already-resolved slot")
	}
}

func TestSubmit_TimesOutToForward(t *testing.T) {
	c := New(true, 20*time.Millisecond, nil)
	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/", "")

	d, err := c.Submit(context.Background(), f.ID, PhaseRequest, f.Snapshot())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if d.Action != ActionForward {
		t.Fatalf("expected auto-forward on timeout, got %s", d.Action)
	}
}

func TestShutdown_ResolvesAllPending(t *testing.T) {
	c := New(true, time.Minute, nil)
	f := flow.New(flow.SchemeHTTPS, "GET", "example.com", 443, "/", "")

	resultCh := make(chan Decision, 1)
	go func() {
		d, _ := c.Submit(context.Background(), f.ID, PhaseRequest, f.Snapshot())
		resultCh <- d
	}()

	for c.PendingCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Shutdown()

	select {
	case d := <-resultCh:
		if d.Action != ActionForward {
			t.Fatalf("expected forward on shutdown, got %s", d.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shutdown to resolve pending slot")
	}
}
