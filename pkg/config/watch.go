package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

const debounceDuration = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to onChange.
// Bursts of events are debounced. Reload errors are logged and the previous
// config stays in effect. Watch blocks until ctx is done.
//
// The directory is watched rather than the file so editors that replace the
// file on save keep being observed.
func Watch(ctx context.Context, path string, onChange func(*Config), logger Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	debounce := newDebounceTimer()
	defer debounce.Stop()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			resetDebounceTimer(debounce)

		case <-debounce.C:
			c, err := Load(path)
			if err != nil {
				if logger != nil {
					logger.Printf("config reload: %v", err)
				}
				continue
			}
			onChange(c)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Printf("config watcher: %v", err)
			}
		}
	}
}

func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func resetDebounceTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
