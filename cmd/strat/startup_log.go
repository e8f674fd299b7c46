package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// progress reports host startup and shutdown steps. On a terminal the
// marks are colored and waits animate; elsewhere every step is one line.
type progress struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	ok    lipgloss.Style
	alert lipgloss.Style
}

func newProgress(w io.Writer, tty bool) *progress {
	th := DefaultTheme()
	p := &progress{w: w, tty: tty, ok: lipgloss.NewStyle(), alert: lipgloss.NewStyle()}
	if tty {
		p.ok = p.ok.Foreground(th.Success)
		p.alert = p.alert.Foreground(th.Warning)
	}
	return p
}

func (p *progress) line(mark lipgloss.Style, sym, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", mark.Render(sym), fmt.Sprintf(format, args...))
}

// done prints a finished step.
func (p *progress) done(format string, args ...any) { p.line(p.ok, "✓", format, args...) }

// warn prints a step that failed without stopping the host.
func (p *progress) warn(format string, args ...any) { p.line(p.alert, "!", format, args...) }

// wait shows msg as in progress until the returned func marks it done.
// The returned func may be called more than once.
func (p *progress) wait(msg string) func() {
	var once sync.Once
	if !p.tty {
		p.mu.Lock()
		fmt.Fprintln(p.w, msg)
		p.mu.Unlock()
		return func() { once.Do(func() { p.done("%s", msg) }) }
	}

	quit := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		anim := spinner.MiniDot
		t := time.NewTicker(anim.FPS)
		defer t.Stop()
		for i := 0; ; i = (i + 1) % len(anim.Frames) {
			p.mu.Lock()
			fmt.Fprintf(p.w, "\r%s %s", anim.Frames[i], msg)
			p.mu.Unlock()
			select {
			case <-quit:
				return
			case <-t.C:
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(quit)
			<-stopped
			p.mu.Lock()
			fmt.Fprint(p.w, "\r")
			p.mu.Unlock()
			p.done("%s", msg)
		})
	}
}
