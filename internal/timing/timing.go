package timing

import (
	"context"
	"time"
)

// Budget bounds a run. Zero fields mean unlimited. Budgets are only consulted
// between units of work, never in the middle of one.
type Budget struct {
	MaxWindows  int
	MaxDuration time.Duration
}

// StopReason explains why a Tracker refused more work.
type StopReason string

const (
	StopNone      StopReason = ""
	StopWindows   StopReason = "max_windows"
	StopDuration  StopReason = "max_duration"
	StopCancelled StopReason = "cancelled"
)

// Tracker counts units of work against a Budget.
type Tracker struct {
	budget  Budget
	started time.Time
	used    int
	now     func() time.Time
}

func NewTracker(b Budget) *Tracker {
	return &Tracker{budget: b, started: time.Now(), now: time.Now}
}

// Allow reports whether another unit may start. It returns the reason when it may not.
func (t *Tracker) Allow(ctx context.Context) (bool, StopReason) {
	if ctx.Err() != nil {
		return false, StopCancelled
	}
	if t.budget.MaxWindows > 0 && t.used >= t.budget.MaxWindows {
		return false, StopWindows
	}
	if t.budget.MaxDuration > 0 && t.now().Sub(t.started) >= t.budget.MaxDuration {
		return false, StopDuration
	}
	return true, StopNone
}

// Consume records one finished unit.
func (t *Tracker) Consume() {
	t.used++
}

func (t *Tracker) Used() int {
	return t.used
}

func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.started)
}
