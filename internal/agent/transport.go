// Package agent wraps one session's reasoning model behind a transport,
// dispatches its tool calls through the policy gate and hook pipeline, and
// streams the turn as envelopes.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/forge/pkg/models"
)

// EventType tags one model event on the inbound stream.
type EventType string

const (
	// EventText is an assistant text segment.
	EventText EventType = "text"

	// EventToolUse is a tool invocation request.
	EventToolUse EventType = "tool_use"

	// EventResult closes a turn with its summary stats.
	EventResult EventType = "result"

	// EventError reports a transport or model failure; it also closes the
	// turn.
	EventError EventType = "error"
)

// Event is one model event. Turn carries the id of the user query the
// event answers; the turn loop discards events stamped with a superseded
// turn, so a reply arriving after its turn timed out can never leak into
// the next turn's stream.
type Event struct {
	Type    EventType
	Turn    uint64
	Text    string
	Call    *models.ToolCall
	Stats   *models.TurnStats
	Message string
}

// Transport connects the session to a reasoning model. Implementations are
// the subprocess JSONL transport and the direct API transport; both present
// the same event stream so the turn loop does not care which backs it.
type Transport interface {
	// Connect establishes the model connection. Called exactly once.
	Connect(ctx context.Context) error

	// SendUser submits a user message, starting turn. Every event the
	// model produces for this query must be stamped with turn.
	SendUser(ctx context.Context, turn uint64, text string) error

	// SendToolResult feeds one tool outcome back to the model.
	SendToolResult(ctx context.Context, result models.ToolResult) error

	// SendSystem queues a system note delivered before the model's next
	// continuation.
	SendSystem(ctx context.Context, text string) error

	// Events returns the inbound stream. Closed when the transport dies.
	Events() <-chan Event

	// Close tears the connection down. Idempotent.
	Close() error
}

// ToolDef describes one tool to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}
