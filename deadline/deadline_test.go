package deadline

import (
	"sync"
	"testing"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/guid"
	"github.com/jech/rtpsreader/rtps"
)

// harness wires a Tracker to a Fake clock the way the reader package
// would: onExpiry simulates re-acquiring the endpoint lock before
// calling back into CheckExpired.
type harness struct {
	mu      sync.Mutex
	fake    *clock.Fake
	tracker *Tracker
	misses  []rtps.InstanceHandle
}

func newHarness(period time.Duration) *harness {
	h := &harness{fake: clock.NewFake(time.Unix(0, 0))}
	h.tracker = New(period, h.fake, func(inst rtps.InstanceHandle, total, change int32) {
		h.misses = append(h.misses, inst)
	}, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.tracker.CheckExpired(h.fake.Now())
	})
	return h
}

func TestDeadlineMissFiresAfterPeriod(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	inst := guid.RandomInstanceHandle()
	h.tracker.Touch(inst)

	h.fake.Advance(5 * time.Millisecond)
	if len(h.misses) != 0 {
		t.Fatalf("expected no miss before period elapses")
	}

	h.fake.Advance(10 * time.Millisecond)
	if len(h.misses) != 1 || h.misses[0] != inst {
		t.Fatalf("expected exactly one miss for instance, got %v", h.misses)
	}
}

func TestTouchResetsDeadline(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	inst := guid.RandomInstanceHandle()
	h.tracker.Touch(inst)

	h.fake.Advance(8 * time.Millisecond)
	h.tracker.Touch(inst)
	h.fake.Advance(8 * time.Millisecond)

	if len(h.misses) != 0 {
		t.Fatalf("touching the instance should have deferred the miss, got %v", h.misses)
	}
}

func TestForgetStopsTracking(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	inst := guid.RandomInstanceHandle()
	h.tracker.Touch(inst)
	h.tracker.Forget(inst)

	h.fake.Advance(20 * time.Millisecond)
	if len(h.misses) != 0 {
		t.Fatalf("forgotten instance must not report a miss, got %v", h.misses)
	}
}

func TestZeroPeriodDisablesTracking(t *testing.T) {
	h := newHarness(0)
	inst := guid.RandomInstanceHandle()
	h.tracker.Touch(inst)
	h.fake.Advance(time.Hour)
	if len(h.misses) != 0 {
		t.Fatalf("zero period must disable tracking entirely, got %v", h.misses)
	}
}

func TestMultipleInstancesTrackedIndependently(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	a := guid.RandomInstanceHandle()
	b := guid.RandomInstanceHandle()

	h.tracker.Touch(a)
	h.fake.Advance(5 * time.Millisecond)
	h.tracker.Touch(b)
	h.fake.Advance(5 * time.Millisecond) // a expires, b has 5ms left

	if len(h.misses) != 1 || h.misses[0] != a {
		t.Fatalf("expected only instance a to miss, got %v", h.misses)
	}

	h.fake.Advance(5 * time.Millisecond)
	if len(h.misses) != 2 || h.misses[1] != b {
		t.Fatalf("expected instance b to miss second, got %v", h.misses)
	}
}

func TestRecurringMissesIncrementTotalCount(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	inst := guid.RandomInstanceHandle()
	h.tracker.Touch(inst)

	h.fake.Advance(10 * time.Millisecond)
	h.fake.Advance(10 * time.Millisecond)

	if got := h.tracker.TotalCount(inst); got != 2 {
		t.Fatalf("expected total count 2 after two missed periods, got %d", got)
	}
}
