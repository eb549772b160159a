// Package quota tracks per-user transformation consumption with
// reservation semantics: a unit is consumed at admission time and is never
// refunded merely because the transformation later fails. Cancelling a job
// before it enters processing is the sole refund path.
package quota

import (
	"sync"
	"time"
)

// Ledger is an in-process per-user reservation counter. Reserve performs
// check-and-decrement under a single lock, so two concurrent submissions
// from the same user cannot both observe the last remaining unit.
type Ledger struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	users  map[string]*window

	now func() time.Time
}

// window is one user's consumption inside the current quota period.
type window struct {
	start time.Time
	used  int
}

// New creates a Ledger allowing limit reservations per user per period.
func New(limit int, period time.Duration) *Ledger {
	return &Ledger{
		limit:  limit,
		period: period,
		users:  make(map[string]*window),
		now:    time.Now,
	}
}

// Reserve consumes one quota unit for the user. It returns false and the
// remaining count (zero) when the window is exhausted.
func (l *Ledger) Reserve(userID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(userID)
	if w.used >= l.limit {
		return false, 0
	}

	w.used++
	return true, l.limit - w.used
}

// Release refunds one unit. Used only when submission fails after the
// reservation was taken, or when a job is cancelled before processing.
func (l *Ledger) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(userID)
	if w.used > 0 {
		w.used--
	}
}

// Remaining reports the user's unreserved units in the current window.
func (l *Ledger) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.limit - l.currentWindow(userID).used
}

// currentWindow returns the user's window, rolling it over when the period
// has elapsed. Callers must hold the lock.
func (l *Ledger) currentWindow(userID string) *window {
	now := l.now()

	w, ok := l.users[userID]
	if !ok {
		w = &window{start: now}
		l.users[userID] = w
		return w
	}

	if l.period > 0 && now.Sub(w.start) >= l.period {
		w.start = now
		w.used = 0
	}

	return w
}
