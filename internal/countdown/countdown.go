// Package countdown runs the periodic timers behind resend cooldowns, OTP
// validity displays and reset-session expiry.
//
// A Countdown owns one goroutine. It reports the remaining time on every tick
// and fires OnExpire once when the deadline passes. Stop is idempotent and
// non-blocking: after it returns no new callback starts, but a callback that
// is already running completes. Owners must therefore ignore callbacks from a
// handle they no longer hold.
package countdown

import (
	"sync"
	"time"
)

const defaultInterval = time.Second

// Config describes one countdown.
type Config struct {
	Deadline time.Time
	Interval time.Duration
	Now      func() time.Time
	OnTick   func(remaining time.Duration)
	OnExpire func()
}

// Countdown is a live handle to a running timer.
type Countdown struct {
	deadline time.Time
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Start launches the countdown goroutine.
func Start(cfg Config) *Countdown {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	c := &Countdown{
		deadline: cfg.Deadline,
		now:      cfg.Now,
		stop:     make(chan struct{}),
	}
	go c.run(cfg)
	return c
}

func (c *Countdown) run(cfg Config) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	expiry := time.NewTimer(c.Remaining())
	defer expiry.Stop()

	for {
		if c.Remaining() <= 0 {
			if !c.stopped() && cfg.OnExpire != nil {
				cfg.OnExpire()
			}
			return
		}

		select {
		case <-c.stop:
			return
		case <-expiry.C:
			// Re-arm against the injected clock; the loop head decides expiry.
			expiry.Reset(maxDuration(c.Remaining(), cfg.Interval))
		case <-ticker.C:
			remaining := c.Remaining()
			if remaining <= 0 || c.stopped() {
				continue
			}
			if cfg.OnTick != nil {
				cfg.OnTick(remaining)
			}
		}
	}
}

func (c *Countdown) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Remaining returns the time left before the deadline, never negative.
func (c *Countdown) Remaining() time.Duration {
	if c == nil {
		return 0
	}
	d := c.deadline.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Stop cancels the countdown. Safe to call more than once and on nil.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Seconds rounds d up to whole seconds for display, so 24.2s reads as 25s.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := d / time.Second
	if d%time.Second != 0 {
		s++
	}
	return int(s)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
