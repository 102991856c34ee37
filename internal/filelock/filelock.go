// Package filelock implements the sentinel-file locking protocol the XYZ
// back-end uses to serialize concurrent writers to the same tile path: a
// ".lock" file created with O_EXCL acts as the mutex, writes land via a
// temp-file-then-rename so readers never observe a partial file, and a
// sweep on startup clears locks orphaned by a crashed process.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// retryInterval is how often lock acquisition is retried while contended.
const retryInterval = 25 * time.Millisecond

// lockPath returns the sentinel lock file path for a target file path.
func lockPath(path string) string {
	return path + ".lock"
}

// Acquire creates path's sentinel lock file, retrying every 25ms until it
// succeeds or ctx is done / timeout elapses. The lock file contains the
// acquiring process's PID, used by Sweep to recognize orphans.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	lp := lockPath(path)
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: lp}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("filelock: create %s: %w", lp, err)
		}

		if timeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("filelock: acquire %s: %w", path, tilerr.LockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Lock represents a held sentinel lock. Release must be called exactly
// once to remove the sentinel file.
type Lock struct {
	path     string
	released bool
}

// Release removes the sentinel lock file. Safe to call once; a second
// call is a no-op.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filelock: release %s: %w", l.path, err)
	}
	return nil
}

// WriteFile acquires path's lock, writes data atomically via a temp file
// plus rename, then releases the lock. Callers that need to hold the lock
// across several operations should use Acquire/Release directly instead.
func WriteFile(ctx context.Context, path string, data []byte, timeout time.Duration) error {
	lock, err := Acquire(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return AtomicWrite(path, data)
}

// AtomicWrite writes data to a temp file in the same directory as path and
// renames it into place, so a concurrent reader never observes a partial
// write (rename is atomic within a filesystem).
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filelock: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filelock: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filelock: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filelock: close temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filelock: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// Sweep walks dir removing orphaned ".lock" sentinel files — those whose
// recorded PID no longer corresponds to a running process on this host.
// Intended to run once at startup, before any operator/cache traffic
// begins, following the Design Notes' decision to make lock-sweeping an
// explicit, reachable step rather than silent background cleanup.
func Sweep(dir string) (removed int, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || filepath.Ext(path) != ".lock" {
			return nil
		}
		if isOrphan(path) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			} else if !os.IsNotExist(rmErr) {
				return fmt.Errorf("filelock: sweep remove %s: %w", path, rmErr)
			}
		}
		return nil
	})
	return removed, err
}

// isOrphan reports whether the lock file's recorded PID is not a live
// process. A lock file we cannot parse is treated as orphaned so sweeps
// make forward progress instead of wedging on a corrupt sentinel.
func isOrphan(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	pid, err := strconv.Atoi(trimNewline(data))
	if err != nil {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// On Windows, FindProcess fails for a PID with no live process, and
	// Process.Signal supports only os.Kill, so a successful lookup is the
	// whole probe there.
	if runtime.GOOS == "windows" {
		return false
	}
	// On Unix, FindProcess always succeeds; Signal(0) is the liveness probe.
	return proc.Signal(syscallSig0()) != nil
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
