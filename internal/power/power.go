// Package power provides the wake lock held by background fetches so the
// device does not suspend in the middle of a query.
package power

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Lock is an acquire/release pair around a system power-retention lock.
type Lock interface {
	Acquire() error
	Release() error
}

// NewLock returns a Linux sysfs wake lock rooted at dir (normally
// "/sys/power"). An empty dir yields a lock that does nothing, which is what
// development machines and panels without autosleep want.
func NewLock(name, dir string) Lock {
	if dir == "" {
		return noopLock{}
	}
	if name == "" {
		name = "calface"
	}
	return &sysfsLock{name: name, dir: dir}
}

type noopLock struct{}

func (noopLock) Acquire() error { return nil }
func (noopLock) Release() error { return nil }

// sysfsLock uses the kernel wakelock interface:
// writing a name to wake_lock holds it, writing it to wake_unlock drops it.
// Kernel wake locks are not counted, so overlapping holders share one count
// here and only the last Release writes wake_unlock.
type sysfsLock struct {
	name string
	dir  string

	mu   sync.Mutex
	held int
}

func (l *sysfsLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == 0 {
		if err := os.WriteFile(filepath.Join(l.dir, "wake_lock"), []byte(l.name), 0o644); err != nil {
			return fmt.Errorf("power: acquire %s: %w", l.name, err)
		}
	}
	l.held++
	return nil
}

func (l *sysfsLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == 0 {
		return fmt.Errorf("power: release %s: not held", l.name)
	}
	l.held--
	if l.held > 0 {
		return nil
	}
	if err := os.WriteFile(filepath.Join(l.dir, "wake_unlock"), []byte(l.name), 0o644); err != nil {
		return fmt.Errorf("power: release %s: %w", l.name, err)
	}
	return nil
}

// Scope is a held Lock. Release may be called any number of times; the
// underlying lock is released exactly once.
type Scope struct {
	lock Lock
	once sync.Once
	err  error
}

// Acquire takes l and returns a Scope that must be released on every exit
// path, typically with defer.
func Acquire(l Lock) (*Scope, error) {
	if l == nil {
		return nil, errors.New("power: nil lock")
	}
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	return &Scope{lock: l}, nil
}

func (s *Scope) Release() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.err = s.lock.Release()
	})
	return s.err
}
