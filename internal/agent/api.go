package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	apiMaxTokens    = 8192
	subAgentMaxIter = 12
)

// convertToolDefs turns tool definitions into Anthropic tool params.
func convertToolDefs(defs []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}

// APITransport drives the Messages API directly, presenting the same event
// stream as the subprocess transport. Used when no model command is
// configured, and by sub-agents through runToolLoop.
type APITransport struct {
	client anthropic.Client
	model  string
	system string
	tools  []anthropic.ToolUnionParam
	log    *observability.Logger

	events   chan Event
	userCh   chan userQuery
	resultCh chan models.ToolResult

	mu        sync.Mutex
	sysNotes  []string
	closeOnce sync.Once
	done      chan struct{}
}

// NewAPITransport builds a direct API transport.
func NewAPITransport(apiKey, model, system string, defs []ToolDef, log *observability.Logger) (*APITransport, error) {
	tools, err := convertToolDefs(defs)
	if err != nil {
		return nil, err
	}
	return &APITransport{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		system:   system,
		tools:    tools,
		log:      log.WithFields("component", "api-transport"),
		events:   make(chan Event, 64),
		userCh:   make(chan userQuery, 1),
		resultCh: make(chan models.ToolResult, 16),
		done:     make(chan struct{}),
	}, nil
}

// Connect starts the conversation loop.
func (t *APITransport) Connect(ctx context.Context) error {
	go t.run(ctx)
	return nil
}

// userQuery is one queued turn. The context is the turn's own; its
// cancellation abandons the request/tool cycle for that turn.
type userQuery struct {
	ctx  context.Context
	turn uint64
	text string
}

// SendUser submits a user message, starting a turn.
func (t *APITransport) SendUser(ctx context.Context, turn uint64, text string) error {
	select {
	case t.userCh <- userQuery{ctx: ctx, turn: turn, text: text}:
		return nil
	case <-t.done:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToolResult feeds one tool outcome back.
func (t *APITransport) SendToolResult(ctx context.Context, result models.ToolResult) error {
	select {
	case t.resultCh <- result:
		return nil
	case <-t.done:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSystem queues a note delivered with the next request.
func (t *APITransport) SendSystem(ctx context.Context, text string) error {
	t.mu.Lock()
	t.sysNotes = append(t.sysNotes, text)
	t.mu.Unlock()
	return nil
}

// Events returns the inbound stream.
func (t *APITransport) Events() <-chan Event { return t.events }

// Close stops the loop.
func (t *APITransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *APITransport) run(ctx context.Context) {
	defer close(t.events)

	var conversation []anthropic.MessageParam
	for {
		var user userQuery
		select {
		case <-t.done:
			return
		case <-ctx.Done():
			return
		case user = <-t.userCh:
		}

		conversation = t.appendUser(conversation, user.text)
		start := time.Now()
		iterations := 0

		// Requests run on the turn's own context: when the turn times out
		// or is cancelled, the in-flight call aborts and this loop stops
		// producing for the dead turn instead of finishing its answer.
		for user.ctx.Err() == nil {
			msg, err := t.client.Messages.New(user.ctx, anthropic.MessageNewParams{
				Model:     anthropic.Model(t.model),
				MaxTokens: apiMaxTokens,
				System:    []anthropic.TextBlockParam{{Text: t.system}},
				Messages:  conversation,
				Tools:     t.tools,
			})
			if err != nil {
				if user.ctx.Err() == nil {
					t.events <- Event{Type: EventError, Turn: user.turn, Message: fmt.Sprintf("model request failed: %v", err)}
				}
				break
			}
			iterations++

			var calls []models.ToolCall
			for _, block := range msg.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						t.events <- Event{Type: EventText, Turn: user.turn, Text: block.Text}
					}
				case "tool_use":
					calls = append(calls, models.ToolCall{
						ID: block.ID, Name: block.Name, Input: block.Input,
					})
				}
			}

			if msg.StopReason != "tool_use" || len(calls) == 0 {
				t.events <- Event{Type: EventResult, Turn: user.turn, Stats: &models.TurnStats{
					DurationMS: time.Since(start).Milliseconds(),
					NumTurns:   iterations,
				}}
				break
			}

			conversation = append(conversation, msg.ToParam())

			var blocks []anthropic.ContentBlockParamUnion
			abandoned := false
			for _, call := range calls {
				t.events <- Event{Type: EventToolUse, Turn: user.turn, Call: &models.ToolCall{
					ID: call.ID, Name: call.Name, Input: call.Input,
				}}
				select {
				case res := <-t.resultCh:
					blocks = append(blocks, anthropic.NewToolResultBlock(res.ToolUseID, res.Content, res.IsError))
				case <-user.ctx.Done():
					// The turn is over; abandon its tool cycle and wait
					// for the next query.
					abandoned = true
				case <-t.done:
					return
				case <-ctx.Done():
					return
				}
				if abandoned {
					break
				}
			}
			if abandoned {
				break
			}
			blocks = append(blocks, t.drainNotes()...)
			conversation = append(conversation, anthropic.NewUserMessage(blocks...))
		}
	}
}

func (t *APITransport) appendUser(conversation []anthropic.MessageParam, text string) []anthropic.MessageParam {
	blocks := append(t.drainNotes(), anthropic.NewTextBlock(text))
	return append(conversation, anthropic.NewUserMessage(blocks...))
}

func (t *APITransport) drainNotes() []anthropic.ContentBlockParamUnion {
	t.mu.Lock()
	notes := t.sysNotes
	t.sysNotes = nil
	t.mu.Unlock()

	var blocks []anthropic.ContentBlockParamUnion
	for _, n := range notes {
		blocks = append(blocks, anthropic.NewTextBlock("System note: "+n))
	}
	return blocks
}

// runToolLoop executes a bounded request/tool cycle and returns the model's
// final text. Sub-agents use this; their tool calls go through exec, which
// applies the same gate and hooks as the main agent.
func runToolLoop(
	ctx context.Context,
	client anthropic.Client,
	model, system, prompt string,
	defs []ToolDef,
	exec func(ctx context.Context, call models.ToolCall) models.ToolResult,
) (string, error) {
	tools, err := convertToolDefs(defs)
	if err != nil {
		return "", err
	}

	conversation := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	for i := 0; i < subAgentMaxIter; i++ {
		msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: apiMaxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  conversation,
			Tools:     tools,
		})
		if err != nil {
			return "", fmt.Errorf("model request failed: %w", err)
		}

		var text strings.Builder
		var calls []models.ToolCall
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				calls = append(calls, models.ToolCall{
					ID: block.ID, Name: block.Name, Input: block.Input,
				})
			}
		}

		if msg.StopReason != "tool_use" || len(calls) == 0 {
			return text.String(), nil
		}

		conversation = append(conversation, msg.ToParam())
		var blocks []anthropic.ContentBlockParamUnion
		for _, call := range calls {
			res := exec(ctx, call)
			blocks = append(blocks, anthropic.NewToolResultBlock(res.ToolUseID, res.Content, res.IsError))
		}
		conversation = append(conversation, anthropic.NewUserMessage(blocks...))
	}
	return "", fmt.Errorf("tool loop did not settle within %d iterations", subAgentMaxIter)
}
