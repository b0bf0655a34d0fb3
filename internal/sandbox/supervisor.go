package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/observability"
)

// ErrNotMaterialized is returned when an operation needs a workspace that
// has not been created yet.
var ErrNotMaterialized = errors.New("workspace not materialized")

// ErrPortNotAllocated is returned when the preview endpoint is requested
// before any server has claimed the session's port.
var ErrPortNotAllocated = errors.New("no port allocated for session")

// Supervisor owns one session's sandbox: the workspace directory, the
// allocated port, and every background process group started inside it.
type Supervisor struct {
	cfg       config.SandboxConfig
	sessionID string
	log       *observability.Logger
	metrics   *observability.Metrics

	mu        sync.Mutex
	workspace string
	port      int
	children  []*Child
	devServer *Child
	watcher   *watcher

	// toolActive is a depth counter of in-flight tool executions, used to
	// attribute filesystem writes seen by the watcher.
	toolActive atomic.Int32
}

// NewSupervisor creates a supervisor for one session. Nothing touches the
// filesystem until Materialize.
func NewSupervisor(cfg config.SandboxConfig, sessionID string, log *observability.Logger, metrics *observability.Metrics) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		sessionID: sessionID,
		log:       log.WithFields("component", "sandbox", "session_id", sessionID),
		metrics:   metrics,
	}
}

// Materialize creates the workspace directory, copies the project scaffold,
// injects the curated component tree and writes .env.local. Idempotent.
func (s *Supervisor) Materialize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.workspace != "" {
		return s.workspace, nil
	}

	dir := filepath.Join(s.cfg.Root, s.sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if s.cfg.ScaffoldDir != "" {
		if err := copyTree(s.cfg.ScaffoldDir, dir); err != nil {
			return "", fmt.Errorf("copy scaffold: %w", err)
		}
	}
	if s.cfg.CuratedDir != "" {
		if err := copyTree(s.cfg.CuratedDir, filepath.Join(dir, "curated")); err != nil {
			return "", fmt.Errorf("inject curated components: %w", err)
		}
	}
	if len(s.cfg.PreviewEnv) > 0 {
		if err := writeEnvFile(filepath.Join(dir, ".env.local"), s.cfg.PreviewEnv); err != nil {
			return "", err
		}
	}

	s.workspace = dir
	s.log.Info(ctx, "workspace materialized", "dir", dir)
	return dir, nil
}

// Workspace returns the workspace directory, or empty before Materialize.
func (s *Supervisor) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// Resolver returns a path resolver rooted at the workspace.
func (s *Supervisor) Resolver() (Resolver, error) {
	ws := s.Workspace()
	if ws == "" {
		return Resolver{}, ErrNotMaterialized
	}
	return Resolver{Root: ws}, nil
}

// Resolve confines p to the workspace. See Resolver.Resolve.
func (s *Supervisor) Resolve(p string) (string, error) {
	r, err := s.Resolver()
	if err != nil {
		return "", err
	}
	return r.Resolve(p)
}

// EnsurePort returns the session's allocated port, probing for one on first
// use.
func (s *Supervisor) EnsurePort() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensurePortLocked()
}

func (s *Supervisor) ensurePortLocked() (int, error) {
	if s.port != 0 {
		return s.port, nil
	}
	port, err := allocatePort(s.cfg.PortFloor, s.cfg.PortWindow)
	if err != nil {
		return 0, err
	}
	s.port = port
	return port, nil
}

// Port returns the allocated port, or zero if none is allocated yet.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// PreviewURL returns the public endpoint for the session's dev server. It
// never allocates: the port is claimed only when a server starts, so a
// session with no children holds no port.
func (s *Supervisor) PreviewURL() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == 0 {
		return "", ErrPortNotAllocated
	}
	return fmt.Sprintf("%s:%d", s.cfg.PublicBase, s.port), nil
}

// StartBackground launches command in the workspace as a tracked process
// group. The child survives the turn that started it.
func (s *Supervisor) StartBackground(ctx context.Context, command, toolCallID string) (*Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workspace == "" {
		return nil, ErrNotMaterialized
	}

	child, err := startChild(s.workspace, command, toolCallID, 0, os.Environ())
	if err != nil {
		return nil, err
	}
	s.children = append(s.children, child)
	s.log.Info(ctx, "background process started", "pid", child.PID, "command", command)
	return child, nil
}

// Children returns a snapshot of tracked background processes, the dev
// server included.
func (s *Supervisor) Children() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Child, 0, len(s.children)+1)
	out = append(out, s.children...)
	if s.devServer != nil {
		out = append(out, s.devServer)
	}
	return out
}

// DrainChildren terminates every tracked process group and clears the set.
// The workspace and port allocation are kept; used by session reset.
func (s *Supervisor) DrainChildren(ctx context.Context) {
	s.mu.Lock()
	children := s.children
	dev := s.devServer
	s.children = nil
	s.devServer = nil
	s.mu.Unlock()

	for _, c := range children {
		c.terminate(s.cfg.KillGrace)
	}
	if dev != nil {
		dev.terminate(s.cfg.KillGrace)
	}
	if n := len(children); n > 0 || dev != nil {
		s.log.Info(ctx, "children drained", "count", n)
	}
}

// Teardown stops the watcher, terminates all children, releases the port and
// removes the workspace when configured to. Idempotent.
func (s *Supervisor) Teardown(ctx context.Context) {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		w.close()
	}

	s.DrainChildren(ctx)

	s.mu.Lock()
	port := s.port
	s.port = 0
	ws := s.workspace
	s.mu.Unlock()

	if port != 0 {
		releasePort(port)
	}
	if ws != "" && s.cfg.RemoveOnTeardown {
		if err := os.RemoveAll(ws); err != nil {
			s.log.Warn(ctx, "workspace removal failed", "dir", ws, "error", err)
		}
	}
	s.log.Info(ctx, "sandbox torn down", "workspace_removed", s.cfg.RemoveOnTeardown)
}

// BeginTool marks a tool execution in flight so the watcher can attribute
// writes. Paired with EndTool.
func (s *Supervisor) BeginTool() { s.toolActive.Add(1) }

// EndTool closes the window opened by BeginTool.
func (s *Supervisor) EndTool() { s.toolActive.Add(-1) }

func (s *Supervisor) toolInFlight() bool { return s.toolActive.Load() > 0 }

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func writeEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	for _, k := range keys {
		b = append(b, fmt.Sprintf("%s=%s\n", k, env[k])...)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}
