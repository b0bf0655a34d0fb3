package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// devServerBindRetries bounds how many fresh ports a bind race may consume.
const devServerBindRetries = 5

// ErrDevServerNotReady is returned when the dev server never answered the
// readiness probe within the configured timeout.
var ErrDevServerNotReady = errors.New("dev server did not become ready")

// StartDevServer launches the configured dev command bound to the session's
// allocated port and waits for it to answer HTTP. Any previous instance is
// terminated first. Returns the preview URL.
//
// Callers must not pick the port; any requested port is ignored in favor of
// the allocation.
func (s *Supervisor) StartDevServer(ctx context.Context, toolCallID string) (string, error) {
	s.mu.Lock()
	if s.workspace == "" {
		s.mu.Unlock()
		return "", ErrNotMaterialized
	}
	ws := s.workspace
	prev := s.devServer
	s.devServer = nil
	s.mu.Unlock()

	if prev != nil {
		prev.terminate(s.cfg.KillGrace)
	}

	var lastErr error
	for attempt := 0; attempt < devServerBindRetries; attempt++ {
		port, err := s.EnsurePort()
		if err != nil {
			return "", err
		}

		env := append(os.Environ(), fmt.Sprintf("PORT=%d", port))
		child, err := startChild(ws, s.cfg.DevCommand, toolCallID, port, env)
		if err != nil {
			return "", err
		}

		err = s.probeReady(ctx, port, child)
		if err == nil {
			s.mu.Lock()
			s.devServer = child
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.DevServerStarts.WithLabelValues("ready").Inc()
			}
			url := fmt.Sprintf("%s:%d", s.cfg.PublicBase, port)
			s.log.Info(ctx, "dev server ready", "port", port, "pid", child.PID)
			return url, nil
		}
		lastErr = err

		child.terminate(s.cfg.KillGrace)
		if s.metrics != nil {
			s.metrics.DevServerStarts.WithLabelValues("failed").Inc()
		}

		// A child that died before answering usually lost a bind race with
		// a process outside this server; retry on a fresh port. A child
		// that stayed up but never answered is a real startup failure.
		if child.Alive() || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		s.mu.Lock()
		s.port = 0
		s.mu.Unlock()
		releasePort(port)
		s.log.Warn(ctx, "dev server lost port, retrying", "port", port, "attempt", attempt+1)
	}

	return "", fmt.Errorf("%w: %v", ErrDevServerNotReady, lastErr)
}

// StopDevServer terminates the running dev server, if any.
func (s *Supervisor) StopDevServer() {
	s.mu.Lock()
	dev := s.devServer
	s.devServer = nil
	s.mu.Unlock()
	if dev != nil {
		dev.terminate(s.cfg.KillGrace)
	}
}

// DevServerRunning reports whether a dev server child is alive.
func (s *Supervisor) DevServerRunning() bool {
	s.mu.Lock()
	dev := s.devServer
	s.mu.Unlock()
	return dev != nil && dev.Alive()
}

// probeReady polls the dev server with exponential backoff until it answers
// HTTP, the child dies, or the ready timeout expires.
func (s *Supervisor) probeReady(ctx context.Context, port int, child *Child) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)

	backoff := 250 * time.Millisecond
	for {
		if !child.Alive() {
			return fmt.Errorf("dev server exited during startup: %s", tail(child.Output(), 512))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no answer on port %d after %s", port, s.cfg.ReadyTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-child.done:
			// loop once more to report the exit
		case <-time.After(backoff):
		}
		if backoff < 4*time.Second {
			backoff *= 2
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
