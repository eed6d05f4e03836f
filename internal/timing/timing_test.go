package timing

import (
	"context"
	"testing"
	"time"
)

func TestTracker_MaxWindows(t *testing.T) {
	tr := NewTracker(Budget{MaxWindows: 2})
	ctx := context.Background()
	for i := range 2 {
		if ok, _ := tr.Allow(ctx); !ok {
			t.Fatalf("window %d should be allowed", i)
		}
		tr.Consume()
	}
	ok, reason := tr.Allow(ctx)
	if ok || reason != StopWindows {
		t.Fatalf("expected max_windows stop, got %v %q", ok, reason)
	}
}

func TestTracker_MaxDuration(t *testing.T) {
	tr := NewTracker(Budget{MaxDuration: time.Minute})
	base := tr.started
	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	ok, reason := tr.Allow(context.Background())
	if ok || reason != StopDuration {
		t.Fatalf("expected max_duration stop, got %v %q", ok, reason)
	}
}

func TestTracker_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, reason := NewTracker(Budget{}).Allow(ctx)
	if ok || reason != StopCancelled {
		t.Fatalf("expected cancelled stop, got %v %q", ok, reason)
	}
}

func TestTracker_Unlimited(t *testing.T) {
	tr := NewTracker(Budget{})
	for range 100 {
		tr.Consume()
	}
	if ok, _ := tr.Allow(context.Background()); !ok {
		t.Fatal("zero budget should be unlimited")
	}
}
