// Package lifespan implements the LifespanQos sweeper: it removes
// cached samples once they have outlived their configured validity
// window, independent of whether they have been read. Grounded on the
// same container/heap one-timer-per-resource discipline as the
// deadline package, applied here to removal instead of miss
// reporting, and on the teacher's estimator.go "called locked"
// convention.
package lifespan

import (
	"container/heap"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/historycache"
)

// ExpiredHandler is invoked from CheckExpired (called with the
// reader's endpoint lock held) for every sample whose lifespan has
// elapsed. The handler is expected to remove the change from the
// cache; the sweeper itself holds no reference to the cache.
type ExpiredHandler func(change *historycache.CacheChange)

// TimerExpired is invoked from a timer goroutine with no lock held.
// The owning reader is expected to re-acquire its endpoint lock and
// then call Sweeper.CheckExpired, mirroring deadline.TimerExpired.
type TimerExpired func()

type entry struct {
	change *historycache.CacheChange
	expiry time.Time
	index  int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].expiry.Before(h[j].expiry) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Sweeper tracks every live CacheChange of one history cache that has
// a non-zero LifespanQos duration. All exported methods assume the
// owning reader's endpoint lock is held by the caller.
type Sweeper struct {
	duration time.Duration
	clk      clock.Clock
	timer    clock.Timer
	onExpire ExpiredHandler
	onTimer  TimerExpired
	byChange map[*historycache.CacheChange]*entry
	pending  entryHeap
}

// New creates a sweeper. A zero duration disables lifespan expiry
// entirely: every method becomes a no-op, matching LifespanQos's
// documented default of "infinite".
func New(duration time.Duration, clk clock.Clock, onExpire ExpiredHandler, onTimer TimerExpired) *Sweeper {
	return &Sweeper{
		duration: duration,
		clk:      clk,
		onExpire: onExpire,
		onTimer:  onTimer,
		byChange: make(map[*historycache.CacheChange]*entry),
	}
}

// SetDuration updates the lifespan duration (LifespanQos is mutable,
// spec §3). Already-tracked samples keep the expiry computed from the
// duration in effect when they were admitted, matching the original
// reader's behaviour of stamping each sample's expiration at
// reception rather than retroactively rescoring the whole cache.
func (s *Sweeper) SetDuration(d time.Duration) {
	s.duration = d
}

// Track begins watching change for lifespan expiry, computing its
// expiry as now + duration. A zero duration is a no-op.
func (s *Sweeper) Track(change *historycache.CacheChange) {
	if s.duration <= 0 {
		return
	}
	now := s.clk.Now()
	e := &entry{change: change, expiry: now.Add(s.duration)}
	s.byChange[change] = e
	heap.Push(&s.pending, e)
	s.rearm(now)
}

// Untrack stops watching change, called once it has been taken or
// otherwise removed from the cache through a path other than
// expiry.
func (s *Sweeper) Untrack(change *historycache.CacheChange) {
	e, ok := s.byChange[change]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&s.pending, e.index)
	}
	delete(s.byChange, change)
}

// CheckExpired is the re-entry point from the armed timer: it calls
// onExpire for every sample whose expiry has elapsed as of now and
// re-arms the timer for the next-expiring sample. Must be called with
// the reader's endpoint lock held.
func (s *Sweeper) CheckExpired(now time.Time) {
	for len(s.pending) > 0 {
		e := s.pending[0]
		if e.expiry.After(now) {
			break
		}
		heap.Pop(&s.pending)
		delete(s.byChange, e.change)
		if s.onExpire != nil {
			s.onExpire(e.change)
		}
	}
	s.rearm(now)
}

func (s *Sweeper) rearm(now time.Time) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 || s.clk == nil || s.onTimer == nil {
		return
	}
	delay := s.pending[0].expiry.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.timer = s.clk.AfterFunc(delay, s.onTimer)
}

// Stop cancels the armed timer, called on reader teardown.
func (s *Sweeper) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Len reports how many samples are currently tracked.
func (s *Sweeper) Len() int { return len(s.byChange) }
