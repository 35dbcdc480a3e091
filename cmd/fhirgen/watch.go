package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 300 * time.Millisecond

// watchSet decides which file system events concern the watched paths.
// Files are watched through their directory, which survives editors that
// save by renaming, and directories are watched as a whole.
type watchSet struct {
	dirs  []string
	files map[string]bool
	trees []string
}

func newWatchSet(paths []string) (*watchSet, error) {
	ws := &watchSet{files: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		st, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(abs)
		if st.IsDir() {
			dir = abs
			ws.trees = append(ws.trees, abs)
		} else {
			ws.files[abs] = true
		}
		if !seen[dir] {
			seen[dir] = true
			ws.dirs = append(ws.dirs, dir)
		}
	}
	return ws, nil
}

func (ws *watchSet) match(name string) bool {
	if ws.files[name] {
		return true
	}
	for _, t := range ws.trees {
		if name == t || strings.HasPrefix(name, t+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// diff returns the directories to start and stop watching when moving from
// prev to ws. A nil prev watches nothing.
func (ws *watchSet) diff(prev *watchSet) (add, remove []string) {
	var old []string
	if prev != nil {
		old = prev.dirs
	}
	for _, d := range ws.dirs {
		if !slices.Contains(old, d) {
			add = append(add, d)
		}
	}
	for _, d := range old {
		if !slices.Contains(ws.dirs, d) {
			remove = append(remove, d)
		}
	}
	return add, remove
}

// watch calls fn after changes to the paths settle, until the context is
// done. fn returns the paths to watch from then on, or nil to keep the
// current ones.
func watch(ctx context.Context, logger *slog.Logger, paths []string, fn func() []string) error {
	ws, err := newWatchSet(paths)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	for _, dir := range ws.dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	logger.Warn("watching for changes", "paths", paths)

	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) || !ws.match(ev.Name) {
				continue
			}
			logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch error", "error", err)
		case <-timer.C:
			next := fn()
			if next == nil {
				continue
			}
			nws, err := newWatchSet(next)
			if err != nil {
				logger.Error("watched paths unchanged", "error", err)
				continue
			}
			add, remove := nws.diff(ws)
			for _, dir := range remove {
				_ = w.Remove(dir)
			}
			for _, dir := range add {
				if err := w.Add(dir); err != nil {
					logger.Error("watch error", "path", dir, "error", err)
				}
			}
			if len(add) > 0 || len(remove) > 0 {
				logger.Warn("watching for changes", "paths", next)
			}
			ws = nws
		}
	}
}
