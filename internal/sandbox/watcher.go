package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// skipDirs are workspace subtrees the watcher never descends into.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".next":        true,
	"dist":         true,
}

type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// StartWatcher watches the workspace for writes that happen while no tool is
// executing. Such out-of-band mutations invalidate any passed security
// review, so onOutOfBand receives the offending path. No-op if a watcher is
// already running.
func (s *Supervisor) StartWatcher(ctx context.Context, onOutOfBand func(path string)) error {
	s.mu.Lock()
	if s.watcher != nil || s.workspace == "" {
		ws := s.workspace
		s.mu.Unlock()
		if ws == "" {
			return ErrNotMaterialized
		}
		return nil
	}
	ws := s.workspace
	s.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w := &watcher{fs: fw, done: make(chan struct{})}
	if err := w.addTree(ws); err != nil {
		fw.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	go s.watchLoop(ctx, w, onOutOfBand)
	return nil
}

func (s *Supervisor) watchLoop(ctx context.Context, w *watcher, onOutOfBand func(string)) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDirs[filepath.Base(event.Name)] {
						_ = w.addTree(event.Name)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if s.toolInFlight() || ignoredPath(event.Name) {
				continue
			}
			s.log.Warn(ctx, "out-of-band workspace write", "path", event.Name, "op", event.Op.String())
			onOutOfBand(event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			s.log.Warn(ctx, "watcher error", "error", err)
		}
	}
}

func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] && path != root {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *watcher) close() {
	close(w.done)
	w.fs.Close()
}

func ignoredPath(p string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if skipDirs[part] {
			return true
		}
	}
	// Editor/tool scratch files churn constantly.
	base := filepath.Base(p)
	return strings.HasSuffix(base, "~") || strings.HasPrefix(base, ".#")
}
