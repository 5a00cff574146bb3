// Package deadline implements the per-instance DeadlineQos tracker: it
// watches the time since the last received sample for each instance
// and reports a miss when a writer falls silent for longer than the
// configured period. Grounded on the teacher's estimator.go for the
// "called locked" convention (every method here assumes the owning
// reader's endpoint lock is held) and on a container/heap priority
// queue to keep a single timer armed for only the next-expiring
// instance, the same one-timer-per-resource discipline the teacher
// uses for NACK retry scheduling in rtpconn.
package deadline

import (
	"container/heap"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/rtps"
)

// MissedHandler is invoked from CheckExpired (called with the
// reader's endpoint lock held) when an instance's deadline period has
// elapsed without a new sample. totalCount is the cumulative number
// of misses for that instance; totalCountChange is the increment
// since the last report, mirroring RequestedDeadlineMissedStatus in
// the original reader.
type MissedHandler func(instance rtps.InstanceHandle, totalCount, totalCountChange int32)

// TimerExpired is invoked from a timer goroutine with no lock held.
// It carries no tracker state: the owning reader is expected to
// re-acquire its endpoint lock and then call Tracker.CheckExpired
// itself, the same lock-reacquisition discipline writerproxy's
// HeartbeatResponder uses.
type TimerExpired func()

type entry struct {
	instance   rtps.InstanceHandle
	lastSeen   time.Time
	deadline   time.Time
	totalCount int32
	index      int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
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

// Tracker watches DeadlineQos for every matched instance of a reader.
// All exported methods assume the owning reader's endpoint lock is
// held by the caller, including the callback invoked from the armed
// timer: the timer goroutine re-acquires the lock itself before
// calling back into the tracker (see
// StatefulReader.onDeadlineTimerExpired in the reader package), never
// touching the heap directly.
type Tracker struct {
	period   time.Duration
	clk      clock.Clock
	timer    clock.Timer
	onMiss   MissedHandler
	onExpiry TimerExpired
	byInst   map[rtps.InstanceHandle]*entry
	pending  entryHeap
}

// New creates a deadline tracker. A zero period disables tracking:
// every method becomes a no-op, matching DeadlineQos's documented
// default of "infinite" (tracking disabled).
func New(period time.Duration, clk clock.Clock, onMiss MissedHandler, onExpiry TimerExpired) *Tracker {
	return &Tracker{
		period:   period,
		clk:      clk,
		onMiss:   onMiss,
		onExpiry: onExpiry,
		byInst:   make(map[rtps.InstanceHandle]*entry),
	}
}

// SetPeriod updates the deadline period (DeadlineQos is mutable, spec
// §3), re-arming every tracked instance's deadline against the new
// period measured from its last-seen timestamp.
func (t *Tracker) SetPeriod(period time.Duration) {
	t.period = period
	now := t.clk.Now()
	for _, e := range t.byInst {
		if period <= 0 {
			continue
		}
		e.deadline = e.lastSeen.Add(period)
	}
	rebuildHeap(&t.pending)
	t.rearm(now)
}

func rebuildHeap(h *entryHeap) {
	heap.Init(h)
}

// Touch records that a sample for instance was just received,
// resetting its deadline window.
func (t *Tracker) Touch(instance rtps.InstanceHandle) {
	if t.period <= 0 {
		return
	}
	now := t.clk.Now()
	e, ok := t.byInst[instance]
	if !ok {
		e = &entry{instance: instance}
		t.byInst[instance] = e
		e.lastSeen = now
		e.deadline = now.Add(t.period)
		heap.Push(&t.pending, e)
	} else {
		e.lastSeen = now
		e.deadline = now.Add(t.period)
		heap.Fix(&t.pending, e.index)
	}
	t.rearm(now)
}

// Forget stops tracking instance, called on instance disposal or
// unregistration.
func (t *Tracker) Forget(instance rtps.InstanceHandle) {
	e, ok := t.byInst[instance]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&t.pending, e.index)
	}
	delete(t.byInst, instance)
}

// CheckExpired is the re-entry point from the armed timer: it fires
// onMiss for every instance whose deadline has elapsed as of now,
// re-arms their deadlines one period forward, and re-arms the timer
// for the next-expiring instance. Must be called with the reader's
// endpoint lock held (the timer callback in the reader package
// re-acquires the lock before calling this).
func (t *Tracker) CheckExpired(now time.Time) {
	for len(t.pending) > 0 {
		e := t.pending[0]
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&t.pending)
		e.totalCount++
		if t.onMiss != nil {
			t.onMiss(e.instance, e.totalCount, 1)
		}
		e.deadline = now.Add(t.period)
		heap.Push(&t.pending, e)
	}
	t.rearm(now)
}

func (t *Tracker) rearm(now time.Time) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if len(t.pending) == 0 || t.clk == nil {
		return
	}
	next := t.pending[0].deadline
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if t.onExpiry == nil {
		return
	}
	t.timer = t.clk.AfterFunc(delay, t.onExpiry)
}

// Stop cancels the armed timer, called on reader teardown.
func (t *Tracker) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// TotalCount returns the cumulative miss count for instance.
func (t *Tracker) TotalCount(instance rtps.InstanceHandle) int32 {
	if e, ok := t.byInst[instance]; ok {
		return e.totalCount
	}
	return 0
}
