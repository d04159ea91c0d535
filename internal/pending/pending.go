// Package pending holds anchors that could not be resolved yet, each with an
// expiry, and retries them in bulk.
package pending

import (
	"sync"
	"time"

	"github.com/xonecas/threadmark/internal/anchor"
)

// PendingAnchor is an anchor waiting for matching content to appear.
type PendingAnchor struct {
	anchor.TextAnchor
	ExpiresAt time.Time
	// Scroll requests a reveal when the anchor eventually resolves.
	Scroll bool
}

// Expired reports whether the anchor's deadline has passed.
func (p PendingAnchor) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired   int
	Resolved  int
	Remaining int
}

// Queue is an ordered, concurrency-safe list of pending anchors. Duplicates
// are allowed.
type Queue struct {
	mu    sync.Mutex
	items []PendingAnchor
}

// Push appends p.
func (q *Queue) Push(p PendingAnchor) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// Len returns the number of queued anchors.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued anchor.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Items returns a copy of the queue in insertion order.
func (q *Queue) Items() []PendingAnchor {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingAnchor, len(q.items))
	copy(out, q.items)
	return out
}

// Prune removes expired anchors and returns how many it removed.
func (q *Queue) Prune(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prune(now)
}

func (q *Queue) prune(now time.Time) int {
	kept := q.items[:0]
	for _, p := range q.items {
		if !p.Expired(now) {
			kept = append(kept, p)
		}
	}
	removed := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

// Sweep prunes expired anchors, then offers every remaining anchor to try,
// newest first. Anchors for which try returns true are removed. try runs with
// the queue locked and must not call back into it.
func (q *Queue) Sweep(now time.Time, try func(PendingAnchor) bool) SweepResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := SweepResult{Expired: q.prune(now)}
	for i := len(q.items) - 1; i >= 0; i-- {
		if try(q.items[i]) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			res.Resolved++
		}
	}
	res.Remaining = len(q.items)
	return res
}
