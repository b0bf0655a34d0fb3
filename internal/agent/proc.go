package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const procKillGrace = 5 * time.Second

// ProcTransport hosts the reasoning model in a subprocess speaking JSONL:
// one init message, then user/tool_result/system messages on stdin and
// text/tool_use/result/error events on stdout. The model process is a black
// box; only the wire format matters here.
type ProcTransport struct {
	command []string
	dir     string
	model   string
	system  string
	tools   []ToolDef
	apiKey  string
	log     *observability.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	events chan Event
	closed bool
}

// NewProcTransport builds a subprocess transport. command is the reasoning
// CLI invocation, dir the workspace it runs in.
func NewProcTransport(command []string, dir, model, system, apiKey string, tools []ToolDef, log *observability.Logger) *ProcTransport {
	return &ProcTransport{
		command: command,
		dir:     dir,
		model:   model,
		system:  system,
		tools:   tools,
		apiKey:  apiKey,
		log:     log.WithFields("component", "proc-transport"),
		events:  make(chan Event, 64),
	}
}

// procInit is the first stdin message, configuring the model process.
type procInit struct {
	Type         string    `json:"type"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt"`
	Tools        []ToolDef `json:"tools"`
	Cwd          string    `json:"cwd"`
}

// procOut is every subsequent stdin message. User messages carry the turn
// id; the model process must echo it on every event it emits for that
// query so late replies can be attributed.
type procOut struct {
	Type      string `json:"type"`
	Turn      uint64 `json:"turn,omitempty"`
	Content   string `json:"content,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// procIn is one stdout event from the model process.
type procIn struct {
	Type       string          `json:"type"`
	Turn       uint64          `json:"turn,omitempty"`
	Content    string          `json:"content,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Connect starts the model process and sends the init message.
func (t *ProcTransport) Connect(ctx context.Context) error {
	if len(t.command) == 0 {
		return errors.New("no model command configured")
	}

	cmd := exec.Command(t.command[0], t.command[1:]...)
	cmd.Dir = t.dir
	cmd.Env = append(os.Environ(), "ANTHROPIC_API_KEY="+t.apiKey)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("model stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("model stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start model process: %w", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.enc = json.NewEncoder(stdin)
	t.mu.Unlock()

	if err := t.send(procInit{
		Type:         "init",
		Model:        t.model,
		SystemPrompt: t.system,
		Tools:        t.tools,
		Cwd:          t.dir,
	}); err != nil {
		t.Close()
		return err
	}

	go t.readLoop(ctx, stdout)
	t.log.Info(ctx, "model process started", "pid", cmd.Process.Pid)
	return nil
}

func (t *ProcTransport) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(t.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in procIn
		if err := json.Unmarshal(line, &in); err != nil {
			t.log.Warn(ctx, "unparseable model event", "error", err)
			continue
		}
		switch in.Type {
		case "text":
			t.events <- Event{Type: EventText, Turn: in.Turn, Text: in.Content}
		case "tool_use":
			t.events <- Event{Type: EventToolUse, Turn: in.Turn, Call: &models.ToolCall{
				ID: in.ID, Name: in.Name, Input: in.Input,
			}}
		case "result":
			t.events <- Event{Type: EventResult, Turn: in.Turn, Stats: &models.TurnStats{
				CostUSD: in.CostUSD, DurationMS: in.DurationMS, NumTurns: in.NumTurns,
			}}
		case "error":
			t.events <- Event{Type: EventError, Turn: in.Turn, Message: in.Message}
		default:
			t.log.Debug(ctx, "ignoring model event", "type", in.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn(ctx, "model stream read failed", "error", err)
	}
}

// SendUser submits a user message for the given turn.
func (t *ProcTransport) SendUser(ctx context.Context, turn uint64, text string) error {
	return t.send(procOut{Type: "user", Turn: turn, Content: text})
}

// SendToolResult feeds one tool outcome back.
func (t *ProcTransport) SendToolResult(ctx context.Context, result models.ToolResult) error {
	return t.send(procOut{
		Type:      "tool_result",
		Content:   result.Content,
		ToolUseID: result.ToolUseID,
		IsError:   result.IsError,
	})
}

// SendSystem queues a system note.
func (t *ProcTransport) SendSystem(ctx context.Context, text string) error {
	return t.send(procOut{Type: "system", Content: text})
}

// send serializes stdin writes; the encoder is single-writer by contract.
func (t *ProcTransport) send(msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.enc == nil {
		return errors.New("transport closed")
	}
	if err := t.enc.Encode(msg); err != nil {
		return fmt.Errorf("write to model process: %w", err)
	}
	return nil
}

// Events returns the inbound stream.
func (t *ProcTransport) Events() <-chan Event { return t.events }

// Close ends stdin and terminates the process group, escalating to SIGKILL
// after a grace period.
func (t *ProcTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(procKillGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
	return nil
}
