package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryReusesAggregatorPerUser(t *testing.T) {
	var built atomic.Int64
	listeners := map[string]*fakeListener{}
	reg := NewRegistry(fixedCounts(1, 0, 0, 0), 7*24*time.Hour, func(userID string, recount func()) ChangeListener {
		built.Add(1)
		l := &fakeListener{}
		listeners[userID] = l
		return l
	})
	t.Cleanup(reg.Shutdown)

	ctx := context.Background()
	a1, err := reg.For(ctx, "u1")
	if err != nil {
		t.Fatalf("For(u1) error = %v", err)
	}
	a2, err := reg.For(ctx, "u1")
	if err != nil {
		t.Fatalf("For(u1) again error = %v", err)
	}
	if a1 != a2 {
		t.Fatal("expected the same aggregator for repeated For() calls")
	}
	if built.Load() != 1 {
		t.Fatalf("listeners built = %d, want 1", built.Load())
	}

	if _, err := reg.For(ctx, "u2"); err != nil {
		t.Fatalf("For(u2) error = %v", err)
	}
	if built.Load() != 2 {
		t.Fatalf("listeners built = %d, want 2", built.Load())
	}
}

func TestRegistryDropStopsListener(t *testing.T) {
	listeners := map[string]*fakeListener{}
	reg := NewRegistry(fixedCounts(0, 0, 0, 0), 7*24*time.Hour, func(userID string, recount func()) ChangeListener {
		l := &fakeListener{}
		listeners[userID] = l
		return l
	})
	t.Cleanup(reg.Shutdown)

	if _, err := reg.For(context.Background(), "u1"); err != nil {
		t.Fatalf("For(u1) error = %v", err)
	}
	reg.Drop("u1")
	if !listeners["u1"].closed.Load() {
		t.Fatal("expected Drop to close the listener")
	}

	// Dropping an unknown user is a no-op.
	reg.Drop("ghost")
}
