package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallSettlesOnce(t *testing.T) {
	c := NewCall[int]()
	if c.Settled() {
		t.Fatalf("new call must be pending")
	}
	if !c.Resolve(1) {
		t.Fatalf("first resolve should settle")
	}
	if c.Resolve(2) || c.Reject(errors.New("late")) {
		t.Fatalf("call settled twice")
	}
	v, err := c.Await(context.Background())
	if v != 1 || err != nil {
		t.Fatalf("await = %d, %v", v, err)
	}
}

func TestCallReject(t *testing.T) {
	boom := errors.New("boom")
	v, err := Rejected[string](boom).Await(context.Background())
	if v != "" || !errors.Is(err, boom) {
		t.Fatalf("await = %q, %v", v, err)
	}
	if got, _ := Resolved("ok").Await(context.Background()); got != "ok" {
		t.Fatalf("resolved = %q", got)
	}
}

func TestCallAwaitHonorsContext(t *testing.T) {
	c := NewCall[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if c.Settled() {
		t.Fatalf("context expiry must not settle the call")
	}
}

func TestAbandonDoesNotSettle(t *testing.T) {
	c := NewCall[int]()
	c.Abandon()
	c.Abandon()
	select {
	case <-c.Abandoned():
	default:
		t.Fatalf("abandoned channel not closed")
	}
	if c.Settled() {
		t.Fatalf("abandon must not settle")
	}
	if !c.Resolve(1) {
		t.Fatalf("abandoned call can still be resolved by its producer")
	}
}
