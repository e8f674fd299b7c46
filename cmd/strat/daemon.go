package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockState describes the host lock file.
type lockState int

const (
	lockFree  lockState = iota // no lock file
	lockHeld                   // a live host owns the lock
	lockStale                  // the owning process is gone
)

// hostLock is the PID file marking the one host allowed per STRAT_HOME.
type hostLock struct{ path string }

// owner returns the PID recorded in the lock file.
func (l hostLock) owner() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt host lock %s: %w", l.path, err)
	}
	return pid, nil
}

// inspect reports the lock state and the owning PID when there is one.
func (l hostLock) inspect() (lockState, int, error) {
	pid, err := l.owner()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return lockFree, 0, nil
	case err != nil:
		return lockFree, 0, err
	case processAlive(pid):
		return lockHeld, pid, nil
	default:
		return lockStale, pid, nil
	}
}

// acquire claims the lock for this process, clearing a stale one.
func (l hostLock) acquire() error {
	state, pid, err := l.inspect()
	if err != nil {
		return err
	}
	if state == lockHeld && pid != os.Getpid() {
		return fmt.Errorf("host already running (PID %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return fmt.Errorf("write host lock: %w", err)
	}
	return nil
}

// release removes the lock if this process still owns it.
func (l hostLock) release() {
	if pid, err := l.owner(); err == nil && pid == os.Getpid() {
		_ = os.Remove(l.path)
	}
}

// clear removes the lock file whoever owns it. A missing file is fine.
func (l hostLock) clear() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove host lock: %w", err)
	}
	return nil
}

// terminate asks the owning host to save and exit.
func (l hostLock) terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find host %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal host %d: %w", pid, err)
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// interruptContext is cancelled by SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
