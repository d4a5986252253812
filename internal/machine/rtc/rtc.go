// Package rtc keeps wall time as a 32-bit seconds counter on top of a
// millisecond tick that clears every hour, mirroring the hardware
// counter's hourly rollover compensation.
package rtc

import (
	"sync"
	"time"
)

const hourMS = 3600000

// Options tunes the clock for tests and for the firmware's power-aware
// wait.
type Options struct {
	// Now supplies the monotonic time base. Defaults to time.Now.
	Now func() time.Time

	// Wait parks the caller until something happens. SleepMS spins on
	// it. Defaults to a millisecond sleep.
	Wait func()
}

// Clock is the device's notion of time. The epoch reference is free to
// be anything the user sets; seconds since power-on by default.
type Clock struct {
	mu   sync.Mutex
	ref  uint32
	base time.Time

	now  func() time.Time
	wait func()
}

func New(opts Options) *Clock {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	wait := opts.Wait
	if wait == nil {
		wait = func() { time.Sleep(time.Millisecond) }
	}
	return &Clock{now: now, wait: wait, base: now()}
}

// counterMS returns the millisecond counter, folding whole hours into
// the epoch reference the way the hourly compare interrupt does.
func (c *Clock) counterMS() int64 {
	ms := c.now().Sub(c.base).Milliseconds()
	for ms >= hourMS {
		c.ref += 3600
		c.base = c.base.Add(time.Hour)
		ms -= hourMS
	}
	return ms
}

// Time returns the current time in seconds.
func (c *Clock) Time() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref + uint32(c.counterMS()/1000)
}

// SetTime moves the epoch reference and clears the counter.
func (c *Clock) SetTime(seconds uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref = seconds
	c.base = c.now()
}

// SleepMS parks the caller for the given number of milliseconds, waking
// through the wait primitive so the device can doze in between.
func (c *Clock) SleepMS(ms int) {
	deadline := c.now().Add(time.Duration(ms) * time.Millisecond)
	for c.now().Before(deadline) {
		c.wait()
	}
}
