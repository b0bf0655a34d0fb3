package models

import "encoding/json"

// ClientMessageType identifies one message on the client-to-server stream.
type ClientMessageType string

const (
	ClientChat  ClientMessageType = "chat"
	ClientPing  ClientMessageType = "ping"
	ClientReset ClientMessageType = "reset"
)

// ClientMessage is one inbound message on the client channel.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Message string            `json:"message,omitempty"`
}

// ToolCall is a tool invocation requested by the reasoning model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool invocation, fed back to the model
// and mirrored to the client as a tool_result envelope.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`

	// ExitCode is set for shell invocations only.
	ExitCode *int `json:"exit_code,omitempty"`

	// URL is set when the result carries a preview endpoint.
	URL string `json:"url,omitempty"`
}

// TurnStats aggregates one completed turn for the done envelope.
type TurnStats struct {
	CostUSD    float64
	DurationMS int64
	NumTurns   int
	PreviewURL string
}
