// Package hooks runs the pre and post tool-call pipeline: auditing, path
// validation, build-failure self-correction, review invalidation and
// planning tracking. Hooks observe and steer the agent; they never execute
// tools themselves.
package hooks

import (
	"context"
	"encoding/json"
	"strings"
)

// Call describes one tool invocation flowing through the pipeline.
type Call struct {
	SessionID string
	ID        string
	Tool      string
	Input     json.RawMessage

	// Decision is "allow" or the denying rule name, set by the caller after
	// the policy gate ran. Pre-hooks see it so the audit trail covers
	// denied calls too.
	Decision string
}

// Result is the slice of a tool outcome post-hooks care about.
type Result struct {
	Content  string
	IsError  bool
	ExitCode *int
}

// Denial blocks a tool call from a pre-hook.
type Denial struct {
	Rule   string
	Reason string
}

// Injection is a system message a post-hook feeds back to the model before
// its next continuation. Terminal injections tell the model to stop trying.
type Injection struct {
	Message  string
	Terminal bool
}

// PreHook runs before tool execution and may deny the call.
type PreHook interface {
	Name() string
	Pattern() string
	Before(ctx context.Context, call *Call) (*Denial, error)
}

// PostHook runs after tool execution and may inject a system message.
type PostHook interface {
	Name() string
	Pattern() string
	After(ctx context.Context, call *Call, result *Result) (*Injection, error)
}

// matchPattern matches a tool name against "*", "prefix*" or an exact name.
func matchPattern(pattern, tool string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(tool, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == tool
}
