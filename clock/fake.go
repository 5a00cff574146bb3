package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests of the
// deadline tracker and lifespan sweeper.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

type fakeTimer struct {
	owner  *Fake
	fire   time.Time
	f      func()
	id     int
	active bool
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{owner: f, fire: f.now.Add(d), f: cb, id: f.seq, active: true}
	f.pending = append(f.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	was := t.active
	t.fire = t.owner.now.Add(d)
	t.active = true
	return was
}

// Advance moves the fake clock forward by d, synchronously firing
// (in fire-time order) every timer whose deadline has elapsed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range f.pending {
		if t.active && !t.fire.After(now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	f.pending = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].fire.Equal(due[j].fire) {
			return due[i].id < due[j].id
		}
		return due[i].fire.Before(due[j].fire)
	})
	f.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}
