package gen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileTask represents a single rendered output file.
type fileTask struct {
	name   string // output file path (relative to the target)
	module string // module that produced the file
	data   []byte
}

// WriterMetrics tracks output statistics of a render.
type WriterMetrics struct {
	FilesWritten int
	FilesMerged  int
	TotalBytes   int64
}

// writer stages output files next to the target directory and swaps them
// in once every module succeeded, so a failed run leaves no partial output.
type writer struct {
	target  string
	staging string
	timeout time.Duration

	mu      sync.Mutex
	written map[string]fileTask
	metrics WriterMetrics
}

func newWriter(target string, timeout time.Duration) (*writer, error) {
	target, err := filepath.Abs(target)
	if err != nil {
		return nil, NewConfigError("Target", target, err.Error())
	}
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create output parent directory: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+"-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &writer{
		target:  target,
		staging: staging,
		timeout: timeout,
		written: make(map[string]fileTask),
	}, nil
}

// write stores one file. Two modules may produce the same path only with
// identical content.
func (w *writer) write(ctx context.Context, f fileTask) error {
	w.mu.Lock()
	if prev, ok := w.written[f.name]; ok {
		w.mu.Unlock()
		if !bytes.Equal(prev.data, f.data) {
			return NewOutputConflictError(filepath.ToSlash(f.name), "modules produce different content", nil, prev.module, f.module)
		}
		w.mu.Lock()
		w.metrics.FilesMerged++
		w.mu.Unlock()
		return nil
	}
	w.written[f.name] = f
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- w.writeFile(f)
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("write %s: %w", f.name, ctx.Err())
	}

	w.mu.Lock()
	w.metrics.FilesWritten++
	w.metrics.TotalBytes += int64(len(f.data))
	w.mu.Unlock()
	return nil
}

func (w *writer) writeFile(f fileTask) error {
	full := filepath.Join(w.staging, f.name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.name, err)
	}
	if err := os.WriteFile(full, f.data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.name, err)
	}
	return nil
}

// commit replaces the target directory with the staged output.
func (w *writer) commit() error {
	var backup string
	if _, err := os.Stat(w.target); err == nil {
		backup = w.staging + ".old"
		if err := os.Rename(w.target, backup); err != nil {
			w.discard()
			return fmt.Errorf("replace output directory: %w", err)
		}
	}
	if err := os.Rename(w.staging, w.target); err != nil {
		if backup != "" {
			_ = os.Rename(backup, w.target)
		}
		w.discard()
		return fmt.Errorf("replace output directory: %w", err)
	}
	if backup != "" {
		return os.RemoveAll(backup)
	}
	return nil
}

// discard removes the staged output.
func (w *writer) discard() {
	_ = os.RemoveAll(w.staging)
}
