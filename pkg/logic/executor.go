// Package logic implements the single-writer executor that owns session
// state. Every read or write of the live session happens inside a task run by
// one Executor; network handlers and timers only submit tasks.
package logic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// ErrClosed is returned when a task is submitted after Close.
var ErrClosed = errors.New("logic executor closed")

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// PanicError carries a panic recovered from a task submitted with Run or Call.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("logic task panicked: %v", e.Value)
}

// Executor runs submitted tasks one at a time, in submission order, on a
// single goroutine. The queue is unbounded so Post never blocks.
type Executor struct {
	log Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// New starts an executor. A nil logger writes to the standard logger.
func New(logger Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[logic] ", log.LstdFlags)
	}
	e := &Executor{
		log:  logger,
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

// Post enqueues task for later execution and returns immediately. A panic
// inside task is logged and does not stop the executor.
func (e *Executor) Post(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.queue = append(e.queue, task)
	e.cond.Signal()
	return nil
}

// Run enqueues task and blocks until it has executed, returning its error or
// a *PanicError. If ctx ends first Run returns ctx.Err(); the task stays
// queued and still runs. Run must not be called from inside a task.
func (e *Executor) Run(ctx context.Context, task func() error) error {
	result := make(chan error, 1)
	err := e.Post(func() {
		result <- e.protect(task)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on e and returns its value. It has the same blocking and
// cancellation behaviour as Run.
func Call[T any](ctx context.Context, e *Executor, fn func() (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Len reports the number of queued tasks not yet started.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close stops accepting tasks, runs everything already queued and waits for
// the worker goroutine to exit. It is idempotent. Calling Close from inside a
// task deadlocks.
func (e *Executor) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.cond.Broadcast()
	}
	e.mu.Unlock()
	<-e.done
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.safeRun(task)
	}
}

func (e *Executor) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// protect converts a panic in task into a *PanicError.
func (e *Executor) protect(task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task()
}
