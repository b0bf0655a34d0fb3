// Package models defines the wire types shared between the gateway, the
// connection manager and the agent session: client messages, server
// envelopes and tool call/result records.
package models

import "encoding/json"

// EnvelopeType identifies one message on the server-to-client stream.
type EnvelopeType string

const (
	// EnvelopeConnection is sent once per channel bind, before any turn output.
	EnvelopeConnection EnvelopeType = "connection"

	// EnvelopeChatReceived acknowledges a chat message before any model
	// envelope of that turn is written.
	EnvelopeChatReceived EnvelopeType = "chat_received"

	// EnvelopeText carries an assistant text delta.
	EnvelopeText EnvelopeType = "text"

	// EnvelopeToolUse announces a tool invocation the model requested.
	EnvelopeToolUse EnvelopeType = "tool_use"

	// EnvelopeToolResult carries the outcome of a tool invocation.
	EnvelopeToolResult EnvelopeType = "tool_result"

	// EnvelopeDone terminates a successful turn stream.
	EnvelopeDone EnvelopeType = "done"

	// EnvelopeError terminates a failed turn stream or reports a
	// session-level failure.
	EnvelopeError EnvelopeType = "error"

	// EnvelopePong answers a client ping.
	EnvelopePong EnvelopeType = "pong"

	// EnvelopeResetComplete confirms a session reset.
	EnvelopeResetComplete EnvelopeType = "reset_complete"
)

// Envelope is one tagged message on the client channel. The optional field
// groups are populated according to Type.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// connection
	SessionID   string `json:"session_id,omitempty"`
	Reconnected bool   `json:"reconnected,omitempty"`

	// text (string) or tool_result payload (any JSON value)
	Content any `json:"content,omitempty"`

	// tool_use
	Tool  string          `json:"tool,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	ID    string          `json:"id,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// done
	PreviewURL string  `json:"preview_url,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`

	// error / chat_received / reset_complete
	Message string `json:"message,omitempty"`
}

// TextEnvelope builds a text delta envelope.
func TextEnvelope(content string) Envelope {
	return Envelope{Type: EnvelopeText, Content: content}
}

// ToolUseEnvelope builds a tool_use envelope.
func ToolUseEnvelope(id, tool string, input json.RawMessage) Envelope {
	return Envelope{Type: EnvelopeToolUse, ID: id, Tool: tool, Input: input}
}

// ToolResultEnvelope builds a tool_result envelope.
func ToolResultEnvelope(toolUseID string, content any, isError bool) Envelope {
	return Envelope{Type: EnvelopeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// ErrorEnvelope builds an error envelope with an opaque client-facing message.
func ErrorEnvelope(message string) Envelope {
	return Envelope{Type: EnvelopeError, Message: message}
}

// DoneEnvelope builds the terminal envelope of a successful turn.
func DoneEnvelope(previewURL string, costUSD float64, durationMS int64, numTurns int) Envelope {
	return Envelope{
		Type:       EnvelopeDone,
		PreviewURL: previewURL,
		CostUSD:    costUSD,
		DurationMS: durationMS,
		NumTurns:   numTurns,
	}
}

// Terminal reports whether the envelope ends a turn stream.
func (e Envelope) Terminal() bool {
	return e.Type == EnvelopeDone || e.Type == EnvelopeError
}
