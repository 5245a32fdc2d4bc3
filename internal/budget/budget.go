// Package budget tracks cumulative task spend against an optional ceiling.
package budget

import (
	"fmt"
	"math"
	"sync"
)

// ErrExceeded is returned by Check when spend has passed the ceiling.
type ErrExceeded struct {
	Spent float64
	Limit float64
}

func (e *ErrExceeded) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f limit", e.Spent, e.Limit)
}

// Tracker accumulates cost for a single task. A limit of 0 means unlimited.
// One tracker per task; never shared.
type Tracker struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewTracker creates a tracker with the given ceiling in currency units.
func NewTracker(limit float64) *Tracker {
	if limit < 0 {
		limit = 0
	}
	return &Tracker{limit: limit}
}

// Record adds cost to the accumulator. Negative values are ignored.
func (t *Tracker) Record(cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	t.spent += cost
	t.mu.Unlock()
}

// Check returns ErrExceeded iff a ceiling is set and spend has passed it.
func (t *Tracker) Check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.spent > t.limit {
		return &ErrExceeded{Spent: t.spent, Limit: t.limit}
	}
	return nil
}

// Spent returns the accumulated cost.
func (t *Tracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Remaining returns the headroom before the ceiling, or +Inf when unlimited.
func (t *Tracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit <= 0 {
		return math.Inf(1)
	}
	return math.Max(0, t.limit-t.spent)
}
