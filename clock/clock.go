// Package clock provides an injectable monotonic time source for the
// deadline and lifespan timers, so tests can drive time deterministically
// instead of sleeping. Adapted from the teacher's rtptime/mono packages
// (epoch-relative monotonic jiffies), generalised into an interface.
package clock

import "time"

// Clock returns the current monotonic time. Implementations need not
// agree with wall-clock time; only differences between two calls are
// meaningful.
type Clock interface {
	Now() time.Time
	// AfterFunc arranges for f to run after d has elapsed, returning a
	// handle that can cancel the timer. Mirrors time.AfterFunc so
	// production code can use the real clock directly.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a scheduled callback.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// real is the production Clock, backed by the standard library.
type real struct{}

// Real is the Clock implementations should use outside of tests.
var Real Clock = real{}

func (real) Now() time.Time { return time.Now() }

func (real) AfterFunc(d time.Duration, f func()) Timer {
	return (*timeTimer)(time.AfterFunc(d, f))
}

type timeTimer time.Timer

func (t *timeTimer) Stop() bool             { return (*time.Timer)(t).Stop() }
func (t *timeTimer) Reset(d time.Duration) bool { return (*time.Timer)(t).Reset(d) }
