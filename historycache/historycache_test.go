package historycache

import (
	"testing"

	"github.com/jech/rtpsreader/guid"
	"github.com/jech/rtpsreader/qos"
	"github.com/jech/rtpsreader/rtps"
)

func mustCache(t *testing.T, topicKind rtps.TopicKind, h qos.History, r qos.ResourceLimits) *Cache {
	t.Helper()
	c, _, err := New(topicKind, h, r, Dynamic, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func change(writer rtps.GUID, seq rtps.SequenceNumber, instance rtps.InstanceHandle) *CacheChange {
	return &CacheChange{
		WriterGUID:     writer,
		SeqNum:         seq,
		Kind:           rtps.Alive,
		InstanceHandle: instance,
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	c := mustCache(t, rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := guid.Random()
	ch := change(w, 1, rtps.NilHandle)
	ok, _ := c.Add(ch)
	if !ok {
		t.Fatalf("expected first add to succeed")
	}
	ok, reason := c.Add(change(w, 1, rtps.NilHandle))
	if ok || reason != Duplicate {
		t.Fatalf("expected duplicate rejection, got ok=%v reason=%v", ok, reason)
	}
	if c.Len() != 1 || c.UnreadCount() != 1 {
		t.Fatalf("unexpected cache state: len=%d unread=%d", c.Len(), c.UnreadCount())
	}
}

func TestKeepLastEvictsOldestWithinInstance(t *testing.T) {
	c := mustCache(t, rtps.WithKey, qos.History{Kind: qos.KeepLast, Depth: 2}, qos.ResourceLimits{})
	w := guid.Random()
	inst := guid.RandomInstanceHandle()

	for i := rtps.SequenceNumber(1); i <= 3; i++ {
		ok, reason := c.Add(change(w, i, inst))
		if !ok {
			t.Fatalf("add seq %d rejected: %v", i, reason)
		}
	}

	entries := c.LookupInstance(inst)
	if len(entries) != 2 {
		t.Fatalf("expected depth-2 window, got %d entries", len(entries))
	}
	if entries[0].SeqNum != 2 || entries[1].SeqNum != 3 {
		t.Fatalf("expected seqnos [2 3], got [%d %d]", entries[0].SeqNum, entries[1].SeqNum)
	}
	if c.Len() != 2 {
		t.Fatalf("expected total cache size 2 after eviction, got %d", c.Len())
	}
}

func TestKeepAllRespectsMaxSamples(t *testing.T) {
	c := mustCache(t, rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{MaxSamples: 2})
	w := guid.Random()

	ok, _ := c.Add(change(w, 1, rtps.NilHandle))
	if !ok {
		t.Fatalf("add 1 should succeed")
	}
	ok, _ = c.Add(change(w, 2, rtps.NilHandle))
	if !ok {
		t.Fatalf("add 2 should succeed")
	}
	ok, reason := c.Add(change(w, 3, rtps.NilHandle))
	if ok || reason != FullSamples {
		t.Fatalf("expected FullSamples rejection, got ok=%v reason=%v", ok, reason)
	}
	if c.Len() != 2 {
		t.Fatalf("cache size must never exceed max_samples transiently, got %d", c.Len())
	}
}

func TestMaxInstancesRejectsNewInstance(t *testing.T) {
	c := mustCache(t, rtps.WithKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{MaxInstances: 1})
	w := guid.Random()
	inst1 := guid.RandomInstanceHandle()
	inst2 := guid.RandomInstanceHandle()

	ok, _ := c.Add(change(w, 1, inst1))
	if !ok {
		t.Fatalf("first instance should be admitted")
	}
	ok, reason := c.Add(change(w, 2, inst2))
	if ok || reason != FullInstances {
		t.Fatalf("expected FullInstances rejection, got ok=%v reason=%v", ok, reason)
	}
}

func TestRemoveUpdatesUnreadAndInstanceIndex(t *testing.T) {
	c := mustCache(t, rtps.WithKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := guid.Random()
	inst := guid.RandomInstanceHandle()
	ch := change(w, 1, inst)
	c.Add(ch)

	if !c.Remove(ch) {
		t.Fatalf("expected remove to find the entry")
	}
	if c.Len() != 0 || c.UnreadCount() != 0 {
		t.Fatalf("expected empty cache after remove, len=%d unread=%d", c.Len(), c.UnreadCount())
	}
	if len(c.LookupInstance(inst)) != 0 {
		t.Fatalf("expected instance index to be pruned once empty")
	}
}

func TestMarkReadDecrementsUnreadOnce(t *testing.T) {
	c := mustCache(t, rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := guid.Random()
	ch := change(w, 1, rtps.NilHandle)
	c.Add(ch)

	c.MarkRead(ch)
	if c.UnreadCount() != 0 {
		t.Fatalf("expected unread 0 after MarkRead, got %d", c.UnreadCount())
	}
	c.MarkRead(ch)
	if c.UnreadCount() != 0 {
		t.Fatalf("MarkRead must be idempotent, got unread=%d", c.UnreadCount())
	}
}

func TestRemoveByWriter(t *testing.T) {
	c := mustCache(t, rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w1 := guid.Random()
	w2 := guid.Random()
	c.Add(change(w1, 1, rtps.NilHandle))
	c.Add(change(w1, 2, rtps.NilHandle))
	c.Add(change(w2, 1, rtps.NilHandle))

	removed := c.RemoveByWriter(w1)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", c.Len())
	}
}

func TestPoolPreallocatedTruncatesOversizedPayload(t *testing.T) {
	c, _, err := New(rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, PoolPreallocated, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := guid.Random()
	ch := change(w, 1, rtps.NilHandle)
	ch.Payload = []byte{1, 2, 3, 4, 5, 6}

	ok, _ := c.Add(ch)
	if !ok {
		t.Fatalf("add should succeed")
	}
	if len(ch.Payload) != 4 {
		t.Fatalf("expected preallocated buffer to truncate to 4 bytes, got %d", len(ch.Payload))
	}
}

func TestPoolWithReallocGrowsForOversizedPayload(t *testing.T) {
	c, _, err := New(rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, PoolWithRealloc, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := guid.Random()
	ch := change(w, 1, rtps.NilHandle)
	ch.Payload = []byte{1, 2, 3, 4, 5, 6}

	ok, _ := c.Add(ch)
	if !ok {
		t.Fatalf("add should succeed")
	}
	if len(ch.Payload) != 6 {
		t.Fatalf("expected realloc buffer to grow to fit 6 bytes, got %d", len(ch.Payload))
	}
}

func TestPoolBufferReleasedOnRemove(t *testing.T) {
	c, _, err := New(rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{}, PoolPreallocated, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := guid.Random()
	ch := change(w, 1, rtps.NilHandle)
	ch.Payload = []byte{1, 2, 3}
	c.Add(ch)
	c.Remove(ch)
	if ch.Payload != nil {
		t.Fatalf("expected payload reference cleared on release")
	}
}

func TestIterateInOrderIsSnapshot(t *testing.T) {
	c := mustCache(t, rtps.NoKey, qos.History{Kind: qos.KeepAll}, qos.ResourceLimits{})
	w := guid.Random()
	ch1 := change(w, 1, rtps.NilHandle)
	c.Add(ch1)

	snap := c.IterateInOrder()
	c.Remove(ch1)

	if len(snap) != 1 {
		t.Fatalf("snapshot should retain entry removed afterwards, got len=%d", len(snap))
	}
}
