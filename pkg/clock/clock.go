// Package clock advances session time and fires periodic jobs scheduled in
// session seconds.
//
// A real-time ticker posts one tick task per interval to the logic executor.
// The tick adds the session speed to the elapsed time and runs every job whose
// next-due second has been reached. Jobs never overlap with themselves: a
// firing that comes due while the previous run is still busy is skipped.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"strat/pkg/logic"
	"strat/pkg/protocol"
	"strat/pkg/session"
)

var (
	// ErrInvalidSpeed is returned by SetSpeed for non-positive or non-finite
	// speeds.
	ErrInvalidSpeed = session.ErrInvalidSpeed

	// ErrInvalidPeriod is returned by Register for a period <= 0 or a
	// negative initial delay.
	ErrInvalidPeriod = errors.New("job period must be > 0 and initial delay >= 0")

	// ErrDuplicateJob is returned by Register when the name is taken.
	ErrDuplicateJob = errors.New("job already registered")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("clock closed")
)

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// TimeSource returns the session time the clock drives, or nil when no
// session is loaded. It is only called on the logic executor.
type TimeSource func() *session.Time

// State is the coarse lifecycle state of a Clock.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Config controls tick cadence and job execution.
type Config struct {
	// TickInterval is the real time between ticks. Default 1s.
	TickInterval time.Duration

	// Workers selects where job bodies run. Zero runs them inline on the logic
	// executor, inside the tick. A positive value runs them on a pool of that
	// many goroutines; such jobs must route state access back through the
	// executor themselves.
	Workers int

	// Logger receives job failures. Nil uses the standard logger.
	Logger Logger

	// OnJobError, when set, is called after a job returns an error or panics.
	OnJobError func(name string, err error)

	// AfterTick, when set, runs on the executor after every applied tick.
	AfterTick func()
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = protocol.DefaultTickInterval
	}
	if c.Logger == nil {
		c.Logger = log.New(log.Writer(), "[clock] ", log.LstdFlags)
	}
	return c
}

// Clock is a speed-scaled, pausable session clock.
type Clock struct {
	cfg  Config
	exec *logic.Executor
	time TimeSource

	paused atomic.Bool
	holds  atomic.Int32
	now    atomic.Int64 // floor(elapsed) as of the last tick

	mu       sync.Mutex
	jobs     map[string]*job
	order    []string
	ticking  bool
	closed   bool
	stopCh   chan struct{}
	tickDone chan struct{}

	sem chan struct{}
}

type job struct {
	name         string
	fn           func() error
	period       int64
	initialDelay int64
	nextDue      int64
	running      bool
}

// New creates a stopped clock bound to exec and the time returned by ts.
func New(exec *logic.Executor, ts TimeSource, cfg Config) *Clock {
	cfg = cfg.withDefaults()
	c := &Clock{
		cfg:  cfg,
		exec: exec,
		time: ts,
		jobs: map[string]*job{},
	}
	if cfg.Workers > 0 {
		c.sem = make(chan struct{}, cfg.Workers)
	}
	return c
}

// Start begins ticking. It is a no-op when already running.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ticking {
		return nil
	}
	c.ticking = true
	c.stopCh = make(chan struct{})
	c.tickDone = make(chan struct{})
	go c.run(c.stopCh, c.tickDone)
	return nil
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.frozen() {
				continue
			}
			if err := c.exec.Post(c.advance); err != nil {
				return
			}
		}
	}
}

// Pause freezes session time. The ticker keeps running but ticks have no
// effect until Resume.
func (c *Clock) Pause() { c.paused.Store(true) }

// Resume undoes Pause.
func (c *Clock) Resume() { c.paused.Store(false) }

// Paused reports whether the clock is paused.
func (c *Clock) Paused() bool { return c.paused.Load() }

// Hold freezes session time like Pause but independently of it. Each Hold
// must be matched by one Release; time moves again once every hold is
// released and the clock is not paused.
func (c *Clock) Hold() { c.holds.Add(1) }

// Release drops one Hold.
func (c *Clock) Release() {
	if c.holds.Add(-1) < 0 {
		c.holds.Store(0)
	}
}

// Held reports whether any Hold is outstanding.
func (c *Clock) Held() bool { return c.holds.Load() > 0 }

func (c *Clock) frozen() bool { return c.paused.Load() || c.holds.Load() > 0 }

// Stop cancels the ticker. Registered jobs and elapsed time are kept, so a
// later Start continues where the clock left off.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.ticking {
		c.mu.Unlock()
		return
	}
	c.ticking = false
	close(c.stopCh)
	done := c.tickDone
	c.mu.Unlock()
	<-done
}

// Close stops the clock permanently. It is idempotent and does not wait for
// pool jobs that are still running.
func (c *Clock) Close() {
	c.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// State reports whether the clock is stopped, running or paused.
func (c *Clock) State() State {
	c.mu.Lock()
	ticking := c.ticking
	c.mu.Unlock()
	switch {
	case !ticking:
		return StateStopped
	case c.frozen():
		return StatePaused
	default:
		return StateRunning
	}
}

// Tick applies one tick synchronously, exactly as the ticker would. It
// respects Pause and Hold and must not be called from the executor.
func (c *Clock) Tick(ctx context.Context) error {
	return c.exec.Run(ctx, func() error {
		c.advance()
		return nil
	})
}

// advance runs on the executor.
func (c *Clock) advance() {
	if c.frozen() {
		return
	}
	t := c.time()
	if t == nil {
		return
	}
	t.Elapsed += t.Speed
	now := int64(math.Floor(t.Elapsed))
	c.now.Store(now)

	for _, j := range c.collectDue(now) {
		c.dispatch(j)
	}
	if c.cfg.AfterTick != nil {
		c.cfg.AfterTick()
	}
}

// collectDue reschedules every due job and returns the ones to run.
func (c *Clock) collectDue(now int64) []*job {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*job
	for _, name := range c.order {
		j := c.jobs[name]
		if j.nextDue > now {
			continue
		}
		if j.running {
			// Skip every missed firing; stay on the original grid.
			for j.nextDue <= now {
				j.nextDue += j.period
			}
			continue
		}
		j.running = true
		j.nextDue = max(now+j.period, now+1)
		due = append(due, j)
	}
	return due
}

func (c *Clock) dispatch(j *job) {
	if c.sem == nil {
		c.execute(j)
		return
	}
	go func() {
		c.sem <- struct{}{}
		defer func() { <-c.sem }()
		c.execute(j)
	}()
}

func (c *Clock) execute(j *job) {
	err := protect(j.fn)

	c.mu.Lock()
	j.running = false
	c.mu.Unlock()

	if err != nil {
		c.cfg.Logger.Printf("job %q failed: %v", j.name, err)
		if c.cfg.OnJobError != nil {
			c.cfg.OnJobError(j.name, err)
		}
	}
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &logic.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Register adds a job firing every period session seconds. The first firing
// is initialDelay seconds from now; without initialDelay it is one period.
func (c *Clock) Register(name string, fn func() error, period int64, initialDelay ...int64) error {
	delay := period
	if len(initialDelay) > 0 {
		delay = initialDelay[0]
	}
	if period <= 0 || delay < 0 {
		return fmt.Errorf("register %q: %w", name, ErrInvalidPeriod)
	}
	if fn == nil {
		return fmt.Errorf("register %q: nil job", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateJob)
	}
	c.jobs[name] = &job{
		name:         name,
		fn:           fn,
		period:       period,
		initialDelay: delay,
		nextDue:      c.now.Load() + delay,
	}
	c.order = append(c.order, name)
	return nil
}

// Unregister removes a job. A run already in progress finishes normally.
func (c *Clock) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; !ok {
		return false
	}
	delete(c.jobs, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Jobs returns the registered job names in registration order.
func (c *Clock) Jobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Busy reports whether the named job is running right now.
func (c *Clock) Busy(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[name]
	return ok && j.running
}

// NextDue returns the session second at which the named job fires next.
func (c *Clock) NextDue(name string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[name]
	if !ok {
		return 0, false
	}
	return j.nextDue, true
}
