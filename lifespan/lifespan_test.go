package lifespan

import (
	"sync"
	"testing"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/historycache"
)

type harness struct {
	mu      sync.Mutex
	fake    *clock.Fake
	sweeper *Sweeper
	expired []*historycache.CacheChange
}

func newHarness(duration time.Duration) *harness {
	h := &harness{fake: clock.NewFake(time.Unix(0, 0))}
	h.sweeper = New(duration, h.fake, func(c *historycache.CacheChange) {
		h.expired = append(h.expired, c)
	}, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sweeper.CheckExpired(h.fake.Now())
	})
	return h
}

func TestExpiryFiresAfterDuration(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	c := &historycache.CacheChange{SeqNum: 1}
	h.sweeper.Track(c)

	h.fake.Advance(5 * time.Millisecond)
	if len(h.expired) != 0 {
		t.Fatalf("expected no expiry before duration elapses")
	}

	h.fake.Advance(10 * time.Millisecond)
	if len(h.expired) != 1 || h.expired[0] != c {
		t.Fatalf("expected change to expire, got %v", h.expired)
	}
	if h.sweeper.Len() != 0 {
		t.Fatalf("expected sweeper to drop expired entry, len=%d", h.sweeper.Len())
	}
}

func TestUntrackPreventsExpiry(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	c := &historycache.CacheChange{SeqNum: 1}
	h.sweeper.Track(c)
	h.sweeper.Untrack(c)

	h.fake.Advance(20 * time.Millisecond)
	if len(h.expired) != 0 {
		t.Fatalf("expected untracked change to never expire, got %v", h.expired)
	}
}

func TestZeroDurationDisablesSweeper(t *testing.T) {
	h := newHarness(0)
	c := &historycache.CacheChange{SeqNum: 1}
	h.sweeper.Track(c)
	h.fake.Advance(time.Hour)
	if len(h.expired) != 0 || h.sweeper.Len() != 0 {
		t.Fatalf("zero duration must disable tracking entirely")
	}
}

func TestMultipleExpiriesOrderedByExpiry(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	first := &historycache.CacheChange{SeqNum: 1}
	second := &historycache.CacheChange{SeqNum: 2}

	h.sweeper.Track(first)
	h.fake.Advance(5 * time.Millisecond)
	h.sweeper.Track(second)
	h.fake.Advance(5 * time.Millisecond) // first expires

	if len(h.expired) != 1 || h.expired[0] != first {
		t.Fatalf("expected first to expire before second, got %v", h.expired)
	}

	h.fake.Advance(5 * time.Millisecond)
	if len(h.expired) != 2 || h.expired[1] != second {
		t.Fatalf("expected second to expire next, got %v", h.expired)
	}
}

func TestSetDurationAppliesToFutureTracksOnly(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	early := &historycache.CacheChange{SeqNum: 1}
	h.sweeper.Track(early)

	h.sweeper.SetDuration(100 * time.Millisecond)
	late := &historycache.CacheChange{SeqNum: 2}
	h.sweeper.Track(late)

	h.fake.Advance(10 * time.Millisecond)
	if len(h.expired) != 1 || h.expired[0] != early {
		t.Fatalf("expected the already-tracked sample to expire under its original duration, got %v", h.expired)
	}
}
