// Package state holds the per-session security-review and planning state
// machines. Both are plain values owned by a session; nothing here is a
// process global, so concurrent sessions never observe each other's state.
package state

import (
	"sync"
	"time"
)

// ReviewStatus is the security-review position of a session workspace.
type ReviewStatus string

const (
	// ReviewNone means no code has been written since the last reset.
	ReviewNone ReviewStatus = "NONE"

	// ReviewRequested means code changed and a review is outstanding.
	ReviewRequested ReviewStatus = "REQUESTED"

	// ReviewPassed means the security reviewer signed off on the current tree.
	ReviewPassed ReviewStatus = "PASSED"

	// ReviewInvalidated means the tree changed after a pass.
	ReviewInvalidated ReviewStatus = "INVALIDATED"
)

// Review tracks the security-review machine for one session. Safe for
// concurrent use; hooks and the workspace watcher both touch it.
type Review struct {
	mu       sync.Mutex
	status   ReviewStatus
	summary  string
	passedAt time.Time
}

// NewReview returns a review machine in the NONE state.
func NewReview() *Review {
	return &Review{status: ReviewNone}
}

// Status returns the current position.
func (r *Review) Status() ReviewStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Passed reports whether the dev server may start.
func (r *Review) Passed() bool {
	return r.Status() == ReviewPassed
}

// MarkPassed records a successful review with the reviewer's summary.
func (r *Review) MarkPassed(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ReviewPassed
	r.summary = summary
	r.passedAt = time.Now()
}

// Invalidate records a code mutation. NONE becomes REQUESTED, PASSED becomes
// INVALIDATED; REQUESTED and INVALIDATED are unchanged.
func (r *Review) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case ReviewNone:
		r.status = ReviewRequested
	case ReviewPassed:
		r.status = ReviewInvalidated
	}
}

// Reset returns the machine to NONE. Used by session reset.
func (r *Review) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = ReviewNone
	r.summary = ""
	r.passedAt = time.Time{}
}

// Summary returns the last recorded reviewer summary and pass time.
func (r *Review) Summary() (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, r.passedAt
}
