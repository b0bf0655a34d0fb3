package sandbox

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const childOutputCap = 64 * 1024

// Child is one background process group owned by a supervisor.
type Child struct {
	PID        int
	PGID       int
	Command    string
	ToolCallID string
	Port       int
	StartedAt  time.Time

	cmd    *exec.Cmd
	output *limitedBuffer
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
}

// startChild launches command via the shell in its own process group so that
// teardown can signal the whole tree, npm child processes included.
func startChild(dir, command, toolCallID string, port int, env []string) (*Child, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := &limitedBuffer{cap: childOutputCap}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	c := &Child{
		PID:        cmd.Process.Pid,
		PGID:       cmd.Process.Pid,
		Command:    command,
		ToolCallID: toolCallID,
		Port:       port,
		StartedAt:  time.Now(),
		cmd:        cmd,
		output:     out,
		done:       make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.exitErr = err
		c.mu.Unlock()
		close(c.done)
	}()

	return c, nil
}

// Alive reports whether the process has not exited yet.
func (c *Child) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Output returns the captured stdout+stderr, truncated at the buffer cap.
func (c *Child) Output() string {
	return c.output.String()
}

// terminate signals the process group with SIGTERM, waits up to grace, then
// escalates to SIGKILL. Safe to call on an already-dead child.
func (c *Child) terminate(grace time.Duration) {
	if !c.Alive() {
		return
	}
	_ = syscall.Kill(-c.PGID, syscall.SIGTERM)
	select {
	case <-c.done:
		return
	case <-time.After(grace):
	}
	_ = syscall.Kill(-c.PGID, syscall.SIGKILL)
	<-c.done
}

// limitedBuffer keeps the first cap bytes written and drops the rest,
// recording how much was discarded.
type limitedBuffer struct {
	mu      sync.Mutex
	cap     int
	buf     []byte
	dropped int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.cap - len(b.buf); remaining > 0 {
		if len(p) <= remaining {
			b.buf = append(b.buf, p...)
		} else {
			b.buf = append(b.buf, p[:remaining]...)
			b.dropped += len(p) - remaining
		}
	} else {
		b.dropped += len(p)
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped > 0 {
		return fmt.Sprintf("%s\n[output truncated, %d bytes dropped]", b.buf, b.dropped)
	}
	return string(b.buf)
}
