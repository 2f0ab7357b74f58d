// Package queue owns the batch service's global in-flight budget and the
// persistent backlog of deferred photometry requests. The budget is the
// single shared mutable resource between the live submission path and the
// backlog drain, so all admission decisions serialize on it.
package queue

import "sync"

// Budget tracks in-flight batch-service work against a hard ceiling.
// Reservation is check-then-reserve under one lock; callers never read the
// count and decide separately.
type Budget struct {
	mu      sync.Mutex
	ceiling int
	pending int
}

// NewBudget creates a Budget with the given ceiling.
func NewBudget(ceiling int) *Budget {
	return &Budget{ceiling: ceiling}
}

// TryReserve atomically reserves n units if they fit under the ceiling.
func (b *Budget) TryReserve(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending+n > b.ceiling {
		return false
	}
	b.pending += n
	return true
}

// Release returns n units to the budget when the service reports their
// results delivered.
func (b *Budget) Release(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending -= n
	if b.pending < 0 {
		b.pending = 0
	}
}

// Reconcile overwrites the pending count with the service's own number.
// Called at pass start; local state is never trusted across restarts.
func (b *Budget) Reconcile(pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pending < 0 {
		pending = 0
	}
	b.pending = pending
}

// Pending returns the current reserved count.
func (b *Budget) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}
