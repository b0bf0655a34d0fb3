// Package sandbox supervises one session's workspace: directory
// materialization, path containment, port allocation, background process
// groups, the dev server and its preview endpoint.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutOfSandbox is returned when a path escapes the workspace root.
var ErrOutOfSandbox = errors.New("path escapes the workspace")

// Resolver confines file paths to a workspace root. Relative paths join
// against the root; absolute paths must already sit under it. Symlinks are
// resolved before the containment check so a link pointing outside the
// workspace cannot smuggle a path through.
type Resolver struct {
	Root string
}

// Resolve returns the canonical absolute path for p, or ErrOutOfSandbox.
func (r Resolver) Resolve(p string) (string, error) {
	if r.Root == "" {
		return "", errors.New("resolver has no root")
	}
	root, err := filepath.EvalSymlinks(r.Root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	// The target may not exist yet (Write creates files); canonicalize the
	// nearest existing ancestor and re-append the remainder.
	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutOfSandbox, p)
	}
	return resolved, nil
}

// Contains reports whether p resolves inside the workspace.
func (r Resolver) Contains(p string) bool {
	_, err := r.Resolve(p)
	return err == nil
}

func resolveExisting(abs string) (string, error) {
	remainder := ""
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		remainder = filepath.Join(filepath.Base(dir), remainder)
		dir = parent
	}
}
