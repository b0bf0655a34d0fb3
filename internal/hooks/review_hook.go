package hooks

import (
	"context"

	"github.com/haasonsaas/forge/internal/state"
)

// mutatingTools change workspace content and therefore stale any passed
// security review.
var mutatingTools = map[string]bool{
	"Write": true,
	"Edit":  true,
	"Bash":  true,
}

// ReviewInvalidationHook moves the review machine on code mutation: a
// passed review becomes invalidated, an untouched workspace becomes
// review-requested.
type ReviewInvalidationHook struct {
	Review *state.Review
}

func (h *ReviewInvalidationHook) Name() string    { return "review-invalidation" }
func (h *ReviewInvalidationHook) Pattern() string { return "*" }

func (h *ReviewInvalidationHook) After(ctx context.Context, call *Call, result *Result) (*Injection, error) {
	if !mutatingTools[call.Tool] || result.IsError {
		return nil, nil
	}
	h.Review.Invalidate()
	return nil, nil
}
