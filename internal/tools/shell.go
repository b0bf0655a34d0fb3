package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/haasonsaas/forge/internal/sandbox"
)

const (
	defaultShellTimeout = 2 * time.Minute
	maxShellTimeout     = 10 * time.Minute
	maxShellOutput      = 64 * 1024
)

// BashTool runs shell commands in the workspace. Foreground commands block
// with a timeout; background commands are registered with the supervisor and
// outlive the turn.
type BashTool struct {
	Supervisor *sandbox.Supervisor
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the project directory. Set background for long-running processes."
}

func (t *BashTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "minLength": 1},
			"background": {"type": "boolean"},
			"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 600}
		},
		"required": ["command"],
		"additionalProperties": false
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var params struct {
		Command        string `json:"command"`
		Background     bool   `json:"background"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return Errorf("invalid input: %v", err), nil
	}

	if params.Background {
		child, err := t.Supervisor.StartBackground(ctx, params.Command, toolCallID(ctx))
		if err != nil {
			return Errorf("start background command: %v", err), nil
		}
		return Text(fmt.Sprintf("started in background (pid %d)", child.PID)), nil
	}

	timeout := defaultShellTimeout
	if params.TimeoutSeconds > 0 {
		timeout = time.Duration(params.TimeoutSeconds) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", params.Command)
	cmd.Dir = t.Supervisor.Workspace()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			code := -1
			return &Result{
				Content:  fmt.Sprintf("command timed out after %s\n%s", timeout, capOutput(out.Bytes())),
				IsError:  true,
				ExitCode: &code,
			}, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Errorf("run command: %v", err), nil
		}
	}

	return &Result{
		Content:  capOutput(out.Bytes()),
		IsError:  exitCode != 0,
		ExitCode: &exitCode,
	}, nil
}

func capOutput(b []byte) string {
	if len(b) <= maxShellOutput {
		return string(b)
	}
	return string(b[:maxShellOutput]) + fmt.Sprintf("\n[output truncated at %d bytes]", maxShellOutput)
}

type callIDKey struct{}

// WithToolCallID tags the context with the id of the in-flight tool call so
// background children can record their origin.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

func toolCallID(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}
