// Package runtime wires the session clock to the logic executor, owns the
// live session on the host and registers the built-in periodic jobs:
// autosave with backup, scheduled scoring and multiplier growth.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"

	"strat/pkg/clock"
	"strat/pkg/logic"
	"strat/pkg/protocol"
	"strat/pkg/session"
)

// Built-in job names.
const (
	JobAutosave   = "autosave"
	JobScoring    = "scoring"
	JobMultiplier = "multiplier"
)

// Event types handed to the Recorder.
const (
	EventAutosave       = "autosave"
	EventAutosaveFailed = "autosave_failed"
	EventJobFailed      = "job_failed"
	EventSessionLoaded  = "session_loaded"
)

// Persister stores the session. Both calls run on the logic executor and may
// fail; failures are logged and never stop the runtime.
type Persister interface {
	Save(s *session.Session) error
	Backup(s *session.Session) error
}

// Scorer applies the timed scoring rules to the live session on the logic
// executor.
type Scorer interface {
	ApplyScoring(s *session.Session) error
}

// Recorder journals notable runtime events. Record must not block.
type Recorder interface {
	Record(evType, sessionID, payload string)
}

// Logger receives diagnostic output. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Config holds job periods in session seconds and the clock settings.
type Config struct {
	Clock            clock.Config
	AutosavePeriod   int64
	ScoringPeriod    int64
	MultiplierPeriod int64
	GrowthFactor     float64
}

func (c Config) withDefaults() Config {
	if c.AutosavePeriod <= 0 {
		c.AutosavePeriod = 600
	}
	if c.ScoringPeriod <= 0 {
		c.ScoringPeriod = 10
	}
	if c.MultiplierPeriod <= 0 {
		c.MultiplierPeriod = 600
	}
	if c.GrowthFactor <= 0 {
		c.GrowthFactor = 1.05
	}
	return c
}

// Deps are the collaborators of a Runtime. All fields are optional: without
// a Persister autosave only logs, without a Scorer the default rules apply.
type Deps struct {
	Persister Persister
	Scorer    Scorer
	Recorder  Recorder
	Logger    Logger
}

// Runtime owns one executor, one clock and the live session.
type Runtime struct {
	cfg  Config
	deps Deps
	exec *logic.Executor
	clk  *clock.Clock

	state     *session.Session // owned by exec
	sessionID atomic.Value     // string, readable off the executor

	hooksMu sync.Mutex
	hooks   []func(*session.Session)

	closeOnce sync.Once
}

// New creates a stopped runtime owning s.
func New(s *session.Session, cfg Config, deps Deps) (*Runtime, error) {
	if s == nil {
		return nil, errors.New("runtime: nil session")
	}
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[runtime] ", log.LstdFlags)
	}
	if deps.Scorer == nil {
		deps.Scorer = session.DefaultScoring()
	}

	r := &Runtime{cfg: cfg, deps: deps, state: s}
	r.sessionID.Store(s.ID.String())
	r.exec = logic.New(deps.Logger)

	clockCfg := cfg.Clock
	if clockCfg.Logger == nil {
		clockCfg.Logger = deps.Logger
	}
	userOnErr := clockCfg.OnJobError
	clockCfg.OnJobError = func(name string, err error) {
		r.record(EventJobFailed, fmt.Sprintf("%s: %v", name, err))
		if userOnErr != nil {
			userOnErr(name, err)
		}
	}
	userAfter := clockCfg.AfterTick
	clockCfg.AfterTick = func() {
		if userAfter != nil {
			userAfter()
		}
		r.runHooks()
	}
	r.clk = clock.New(r.exec, func() *session.Time {
		if r.state == nil {
			return nil
		}
		return &r.state.Time
	}, clockCfg)
	r.clk.Resync(s.Time.Elapsed)

	if err := r.registerBuiltins(); err != nil {
		r.exec.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) registerBuiltins() error {
	jobs := []struct {
		name   string
		period int64
		fn     func() error
	}{
		{JobAutosave, r.cfg.AutosavePeriod, r.autosave},
		{JobScoring, r.cfg.ScoringPeriod, r.stateJob(r.deps.Scorer.ApplyScoring)},
		{JobMultiplier, r.cfg.MultiplierPeriod, r.stateJob(func(s *session.Session) error {
			s.GrowMultiplier(r.cfg.GrowthFactor)
			return nil
		})},
	}
	for _, j := range jobs {
		if err := r.clk.Register(j.name, j.fn, j.period); err != nil {
			return fmt.Errorf("register built-in job: %w", err)
		}
	}
	return nil
}

// stateJob adapts fn to a clock job. Inline jobs already run on the executor;
// pool jobs hop back onto it.
func (r *Runtime) stateJob(fn func(*session.Session) error) func() error {
	if r.cfg.Clock.Workers <= 0 {
		return func() error { return fn(r.state) }
	}
	return func() error {
		return r.exec.Run(context.Background(), func() error { return fn(r.state) })
	}
}

// autosave holds the clock while saving so the saved state is consistent.
// The hold is separate from Pause, so an operator pause issued during the
// save survives it.
func (r *Runtime) autosave() error {
	r.clk.Hold()
	defer r.clk.Release()

	err := r.stateJob(func(s *session.Session) error {
		if r.deps.Persister == nil {
			return nil
		}
		if err := r.deps.Persister.Save(s); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		if err := r.deps.Persister.Backup(s); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		return nil
	})()
	if err != nil {
		r.deps.Logger.Printf("autosave failed: %v", err)
		r.record(EventAutosaveFailed, err.Error())
		return nil
	}
	r.record(EventAutosave, "")
	return nil
}

func (r *Runtime) record(evType, payload string) {
	if r.deps.Recorder == nil {
		return
	}
	id, _ := r.sessionID.Load().(string)
	r.deps.Recorder.Record(evType, id, payload)
}

// Start starts the clock. Idempotent.
func (r *Runtime) Start() error { return r.clk.Start() }

// Pause freezes session time and job firing.
func (r *Runtime) Pause() { r.clk.Pause() }

// Resume undoes Pause.
func (r *Runtime) Resume() { r.clk.Resume() }

// Stop halts the clock; jobs and elapsed time are kept.
func (r *Runtime) Stop() { r.clk.Stop() }

// Close stops the clock and the executor permanently, running tasks that are
// already queued. Idempotent.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.clk.Close()
		r.exec.Close()
	})
}

// State reports the clock state.
func (r *Runtime) State() clock.State { return r.clk.State() }

// Clock exposes the underlying clock.
func (r *Runtime) Clock() *clock.Clock { return r.clk }

// SessionID returns the ID of the session currently owned by the runtime.
func (r *Runtime) SessionID() string {
	id, _ := r.sessionID.Load().(string)
	return id
}

// RunOnLogic posts task to the executor without waiting.
func (r *Runtime) RunOnLogic(task func(*session.Session)) error {
	return r.exec.Post(func() { task(r.state) })
}

// CallOnLogic runs task on the executor and waits for it.
func (r *Runtime) CallOnLogic(ctx context.Context, task func(*session.Session) error) error {
	return r.exec.Run(ctx, func() error { return task(r.state) })
}

// Query runs fn on the runtime's executor and returns its result.
func Query[T any](ctx context.Context, r *Runtime, fn func(*session.Session) (T, error)) (T, error) {
	return logic.Call(ctx, r.exec, func() (T, error) { return fn(r.state) })
}

// RegisterPeriodicJob adds a job firing every period session seconds, after
// an optional initial delay.
func (r *Runtime) RegisterPeriodicJob(name string, job func() error, period int64, initialDelay ...int64) error {
	return r.clk.Register(name, job, period, initialDelay...)
}

// UnregisterJob removes a job by name.
func (r *Runtime) UnregisterJob(name string) bool { return r.clk.Unregister(name) }

// SetSpeed changes the session speed from the next tick on.
func (r *Runtime) SetSpeed(v float64) error { return r.clk.SetSpeed(v) }

// Speed returns the session speed.
func (r *Runtime) Speed(ctx context.Context) (float64, error) { return r.clk.Speed(ctx) }

// Elapsed returns exact elapsed session time.
func (r *Runtime) Elapsed(ctx context.Context) (float64, error) { return r.clk.Elapsed(ctx) }

// FormatElapsed returns elapsed session time as HH:MM:SS.
func (r *Runtime) FormatElapsed(ctx context.Context) (string, error) {
	return r.clk.FormatElapsed(ctx)
}

// OnTick registers fn to run on the executor after every applied tick, after
// every applied command and after Replace.
func (r *Runtime) OnTick(fn func(*session.Session)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Runtime) runHooks() {
	r.hooksMu.Lock()
	hooks := slices.Clone(r.hooks)
	r.hooksMu.Unlock()
	for _, h := range hooks {
		h(r.state)
	}
}

// Apply executes cmd on the executor and waits for the outcome.
func (r *Runtime) Apply(ctx context.Context, cmd protocol.Command) error {
	return r.exec.Run(ctx, func() error {
		if err := r.state.Apply(cmd); err != nil {
			return err
		}
		r.runHooks()
		return nil
	})
}

// Replace swaps in a different session, e.g. one loaded from disk, and
// rebases job schedules on its elapsed time.
func (r *Runtime) Replace(ctx context.Context, s *session.Session) error {
	if s == nil {
		return errors.New("runtime: nil session")
	}
	err := r.exec.Run(ctx, func() error {
		r.state = s
		r.sessionID.Store(s.ID.String())
		r.clk.Resync(s.Time.Elapsed)
		r.runHooks()
		return nil
	})
	if err != nil {
		return err
	}
	r.record(EventSessionLoaded, s.Name)
	return nil
}

// Tick applies one tick synchronously. Intended for tools and tests.
func (r *Runtime) Tick(ctx context.Context) error { return r.clk.Tick(ctx) }
