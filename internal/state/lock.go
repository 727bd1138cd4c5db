// Package state guards the one piece of host state a run owns: the right to
// mutate a named environment.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultStaleAfter is how old a lock file must be before it is reclaimed.
// Environment builds can legitimately take hours.
const DefaultStaleAfter = 6 * time.Hour

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// Lock is an exclusive lock file that serializes runs against one
// environment on this host.
type Lock struct {
	path       string
	staleAfter time.Duration
	held       bool
}

func NewLock(path string) *Lock {
	return &Lock{path: path, staleAfter: DefaultStaleAfter}
}

// WithStaleAfter overrides the stale lock threshold.
func (l *Lock) WithStaleAfter(d time.Duration) *Lock {
	l.staleAfter = d
	return l
}

func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock for env, reclaiming it once if the existing lock
// file is stale.
func (l *Lock) Acquire(env string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	content := fmt.Sprintf("pid=%d\nenv=%s\ntime=%s\n", os.Getpid(), env, time.Now().UTC().Format(time.RFC3339))
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(content)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		info, err := os.Stat(l.path)
		if err != nil {
			// Released between the open and the stat.
			continue
		}
		if time.Since(info.ModTime()) <= l.staleAfter {
			return fmt.Errorf("%w (lock file: %s, %s). If this is an error, remove the lock file manually",
				ErrLocked, l.path, l.holder())
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}
	return fmt.Errorf("%w (lock file: %s)", ErrLocked, l.path)
}

// Release removes the lock file if this Lock holds it.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// holder summarizes the lock file contents for diagnostics.
func (l *Lock) holder() string {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return "holder unknown"
	}
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok && v != "" {
			parts = append(parts, k+" "+v)
		}
	}
	if len(parts) == 0 {
		return "holder unknown"
	}
	return "held by " + strings.Join(parts, ", ")
}
