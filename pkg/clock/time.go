package clock

import (
	"context"
	"fmt"
	"math"

	"strat/pkg/logic"
	"strat/pkg/session"
)

// SetSpeed validates v and schedules the write on the executor, so the next
// tick uses it. An invalid speed leaves the current one unchanged. Safe to
// call from any goroutine, including executor tasks.
func (c *Clock) SetSpeed(v float64) error {
	if err := session.ValidateSpeed(v); err != nil {
		return err
	}
	return c.exec.Post(func() {
		if t := c.time(); t != nil {
			t.Speed = v
		}
	})
}

// Speed returns the current speed, or 1 when no session is loaded.
func (c *Clock) Speed(ctx context.Context) (float64, error) {
	return logic.Call(ctx, c.exec, func() (float64, error) {
		t := c.time()
		if t == nil {
			return 1, nil
		}
		return t.Speed, nil
	})
}

// Elapsed returns the exact elapsed session time.
func (c *Clock) Elapsed(ctx context.Context) (float64, error) {
	return logic.Call(ctx, c.exec, func() (float64, error) {
		t := c.time()
		if t == nil {
			return 0, nil
		}
		return t.Elapsed, nil
	})
}

// ElapsedSeconds returns elapsed session time in whole seconds.
func (c *Clock) ElapsedSeconds(ctx context.Context) (int64, error) {
	e, err := c.Elapsed(ctx)
	return int64(math.Floor(e)), err
}

// FormatElapsed returns elapsed session time as HH:MM:SS.
func (c *Clock) FormatElapsed(ctx context.Context) (string, error) {
	s, err := c.ElapsedSeconds(ctx)
	if err != nil {
		return "", err
	}
	return FormatSeconds(s), nil
}

// ResetTime sets elapsed time back to zero and reschedules every job relative
// to the new origin.
func (c *Clock) ResetTime(ctx context.Context) error {
	return c.exec.Run(ctx, func() error {
		if t := c.time(); t != nil {
			t.Elapsed = 0
		}
		c.Resync(0)
		return nil
	})
}

// Resync rebases job schedules on a new elapsed time, e.g. after a different
// session was loaded. It must run on the executor.
func (c *Clock) Resync(elapsed float64) {
	now := int64(math.Floor(elapsed))
	c.now.Store(now)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.jobs {
		j.nextDue = now + j.initialDelay
	}
}

// FormatSeconds renders whole seconds as HH:MM:SS.
func FormatSeconds(s int64) string {
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}
