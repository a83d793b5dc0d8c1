// Package quota tracks the monthly call budget of the structured search tier.
//
// Tracker is pure state: it never performs I/O. Persistence across process
// restarts is handled separately by RedisCheckpoint.
package quota

import (
	"sync"
	"time"

	"jobmate/discovery-pipeline/internal/model"
)

// DefaultMonthlyLimit matches the structured API's free tier.
const DefaultMonthlyLimit = 100

// Tracker is safe for concurrent use. All mutations are serialised on mu so
// two callers can never overdraw the budget.
type Tracker struct {
	mu        sync.Mutex
	limit     int
	remaining int
	resetsAt  time.Time
	now       func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a full budget of monthlyLimit calls that resets at the
// start of the next calendar month (UTC).
func NewTracker(monthlyLimit int, opts ...Option) *Tracker {
	if monthlyLimit < 0 {
		monthlyLimit = 0
	}
	t := &Tracker{limit: monthlyLimit, remaining: monthlyLimit, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	t.resetsAt = nextReset(t.now())
	return t
}

// TryReserve atomically takes n calls from the budget. It returns false and
// leaves the budget untouched when fewer than n remain.
func (t *Tracker) TryReserve(n int) bool {
	if n <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	if t.remaining < n {
		return false
	}
	t.remaining -= n
	return true
}

// Release gives back n calls reserved for a request that never consumed
// upstream quota. The budget never exceeds the monthly limit.
func (t *Tracker) Release(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	t.remaining += n
	if t.remaining > t.limit {
		t.remaining = t.limit
	}
}

// Snapshot returns the current state for reporting.
func (t *Tracker) Snapshot() model.QuotaState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeResetLocked()
	return model.QuotaState{
		RequestsRemaining: t.remaining,
		MonthlyLimit:      t.limit,
		ResetsAt:          t.resetsAt,
	}
}

// Restore loads a previously checkpointed state. A checkpoint from an
// earlier period is ignored, since the lazy reset would refill it anyway.
func (t *Tracker) Restore(s model.QuotaState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.ResetsAt.After(t.now()) {
		return
	}
	t.resetsAt = s.ResetsAt
	t.remaining = min(max(s.RequestsRemaining, 0), t.limit)
}

func (t *Tracker) maybeResetLocked() {
	now := t.now()
	if now.Before(t.resetsAt) {
		return
	}
	t.remaining = t.limit
	t.resetsAt = nextReset(now)
}

// nextReset returns midnight UTC on the first day of the month after now.
func nextReset(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
