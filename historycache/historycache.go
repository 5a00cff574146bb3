// Package historycache implements the reader-side history cache: a
// bounded, ordered store of received CacheChange records that
// enforces HistoryQos and ResourceLimitsQos and tracks an unread
// counter. Grounded on the teacher's packetcache.Cache (a
// mutex-guarded struct holding an ordered store plus a secondary
// index), generalised from a fixed-size ring of raw RTP packets to a
// QoS-bounded, per-instance-indexed store of CacheChange records.
package historycache

import (
	"sort"
	"sync"
	"time"

	"github.com/jech/rtpsreader/qos"
	"github.com/jech/rtpsreader/rtps"
)

// RejectReason explains why Add refused a change.
type RejectReason int

const (
	_ RejectReason = iota
	FullSamples
	FullInstances
	FullPerInstance
	OlderThanKeepLastWindow
	Duplicate
)

func (r RejectReason) String() string {
	switch r {
	case FullSamples:
		return "FULL_SAMPLES"
	case FullInstances:
		return "FULL_INSTANCES"
	case FullPerInstance:
		return "FULL_PER_INSTANCE"
	case OlderThanKeepLastWindow:
		return "OLDER_THAN_KEEP_LAST_WINDOW"
	case Duplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// CacheChange is one sample held by the cache. Identity is
// (WriterGUID, SeqNum); it is immutable after insertion except for
// the isRead flag, which only this package's methods may flip, so
// invariant 7 (unreadCount == #{isRead==false}) cannot be violated
// from outside the package.
type CacheChange struct {
	WriterGUID      rtps.GUID
	SeqNum          rtps.SequenceNumber
	Kind            rtps.ChangeKind
	SourceTimestamp time.Time
	InstanceHandle  rtps.InstanceHandle
	Payload         []byte

	receptionTimestamp time.Time
	isRead             bool
}

// IsRead reports whether this entry has been delivered by read/take.
func (c *CacheChange) IsRead() bool { return c.isRead }

// ReceptionTimestamp returns when the cache admitted this entry.
func (c *CacheChange) ReceptionTimestamp() time.Time { return c.receptionTimestamp }

type instanceEntries struct {
	handle  rtps.InstanceHandle
	entries []*CacheChange // reception order
}

// MemoryPolicy selects how a Cache manages the backing storage of a
// CacheChange's Payload, mirroring the three payload storage policies
// of the original reader. Grounded on rtpconn.go's packetBufPool: a
// sync.Pool of reusable buffers, generalised here to the two
// pool-backed variants plus a no-reuse Dynamic fallback.
type MemoryPolicy int

const (
	// PoolPreallocated copies each payload into a fixed-size buffer
	// drawn from a sync.Pool; a payload larger than the configured
	// buffer size is truncated to it rather than grown.
	PoolPreallocated MemoryPolicy = iota
	// PoolWithRealloc draws from the same pool but grows an
	// individual buffer (replacing it in the pool on release) when a
	// payload exceeds its current capacity.
	PoolWithRealloc
	// Dynamic allocates nothing of its own: the cache simply retains
	// whatever slice the caller (decoder) handed it.
	Dynamic
)

// Cache is the bounded, ordered CacheChange store for one
// StatefulReader. All methods assume the reader's endpoint lock is
// held by the caller except where noted; the cache does not take its
// own lock (one lock governs the whole reader, per spec §5), it
// exposes a Stats snapshot method used outside that lock via its own
// mutex for monitoring (grounded on packetcache.Cache.GetStats).
type Cache struct {
	topicKind rtps.TopicKind
	history   qos.History
	limits    qos.ResourceLimits

	order     []*CacheChange // reception order, the primary index
	instances []*instanceEntries

	unread int

	memPolicy MemoryPolicy
	bufSize   int
	pool      *sync.Pool

	statsMu sync.Mutex
	stats   Stats
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Samples   int
	Instances int
	Rejected  int
}

// New creates a cache for a topic with the given kind, history and
// resource-limits policies. It returns an error if the QoS
// combination is internally inconsistent (TopicAttributes::checkQos
// in the original reader); underProvisioned is a non-fatal warning
// the caller should log, matching spec §4.3's "WARN, not fatal" rule.
// memPolicy selects the payload storage policy; bufSize is the
// per-buffer capacity for the two pool-backed policies and is ignored
// for Dynamic.
func New(topicKind rtps.TopicKind, history qos.History, limits qos.ResourceLimits, memPolicy MemoryPolicy, bufSize int) (*Cache, bool, error) {
	underProvisioned, err := qos.CheckTopic(topicKind == rtps.WithKey, history, limits)
	if err != nil {
		return nil, false, err
	}
	c := &Cache{
		topicKind: topicKind,
		history:   history,
		limits:    limits,
		memPolicy: memPolicy,
		bufSize:   bufSize,
	}
	if memPolicy != Dynamic {
		c.pool = &sync.Pool{
			New: func() any { return make([]byte, 0, bufSize) },
		}
	}
	return c, underProvisioned, nil
}

// adoptPayload copies change.Payload into cache-owned storage under
// the two pool policies, so the cache does not retain a slice owned
// by the decoder's reusable receive buffer. Under Dynamic the caller's
// slice is kept as it is.
func (c *Cache) adoptPayload(change *CacheChange) {
	if c.memPolicy == Dynamic {
		return
	}
	buf := c.pool.Get().([]byte)
	switch c.memPolicy {
	case PoolPreallocated:
		if cap(buf) < len(change.Payload) {
			buf = buf[:cap(buf)]
		} else {
			buf = buf[:len(change.Payload)]
		}
	case PoolWithRealloc:
		if cap(buf) < len(change.Payload) {
			buf = make([]byte, len(change.Payload))
		} else {
			buf = buf[:len(change.Payload)]
		}
	}
	n := copy(buf, change.Payload)
	change.Payload = buf[:n]
}

// releasePayload returns change's buffer to the pool, if any.
func (c *Cache) releasePayload(change *CacheChange) {
	if c.memPolicy == Dynamic || change.Payload == nil {
		return
	}
	c.pool.Put(change.Payload[:0])
	change.Payload = nil
}

func (c *Cache) findInstance(h rtps.InstanceHandle) *instanceEntries {
	for _, ie := range c.instances {
		if ie.handle == h {
			return ie
		}
	}
	return nil
}

func (c *Cache) instanceHandle(h rtps.InstanceHandle) rtps.InstanceHandle {
	if c.topicKind == rtps.NoKey {
		return rtps.NilHandle
	}
	return h
}

// Add attempts to insert change into the cache, applying HistoryQos
// admission and ResourceLimitsQos bounds (spec §4.3). On success it
// returns (true, 0) and keeps change: it stamps the reception time
// and, under the two pool policies, replaces Payload with a
// cache-owned copy. On rejection it returns (false, reason) and
// leaves change untouched, ownership staying with the caller.
func (c *Cache) Add(change *CacheChange) (bool, RejectReason) {
	handle := c.instanceHandle(change.InstanceHandle)

	for _, e := range c.order {
		if e.WriterGUID == change.WriterGUID && e.SeqNum == change.SeqNum {
			c.bumpRejected()
			return false, Duplicate
		}
	}

	ie := c.findInstance(handle)
	newInstance := ie == nil

	if c.limits.MaxInstances > 0 && newInstance && len(c.instances) >= c.limits.MaxInstances {
		c.bumpRejected()
		return false, FullInstances
	}

	if c.history.Kind == qos.KeepAll {
		if c.limits.MaxSamples > 0 && len(c.order) >= c.limits.MaxSamples {
			c.bumpRejected()
			return false, FullSamples
		}
		if c.topicKind == rtps.WithKey && c.limits.MaxSamplesPerInstance > 0 &&
			!newInstance && len(ie.entries) >= c.limits.MaxSamplesPerInstance {
			c.bumpRejected()
			return false, FullPerInstance
		}
	} else {
		// KEEP_LAST: always admitted once resource limits (not
		// history depth) are satisfied; depth is enforced by evicting
		// the instance's oldest sample below, never by rejecting the
		// newest one, per spec §4.3.
		if c.limits.MaxSamples > 0 && len(c.order) >= c.limits.MaxSamples && !c.canEvictForKeepLast(ie) {
			c.bumpRejected()
			return false, FullSamples
		}
	}

	if newInstance {
		ie = &instanceEntries{handle: handle}
		c.instances = append(c.instances, ie)
	}

	if c.history.Kind == qos.KeepLast && len(ie.entries) >= c.history.Depth {
		c.evictOldest(ie)
	}

	change.receptionTimestamp = time.Now()
	c.adoptPayload(change)
	c.order = append(c.order, change)
	ie.entries = append(ie.entries, change)
	if !change.isRead {
		c.unread++
	}
	c.recordOccupancy()
	return true, 0
}

// canEvictForKeepLast reports whether admitting one more sample for
// ie's instance under KEEP_LAST would itself free a slot via eviction,
// so a cache already at max_samples is not incorrectly rejected when
// the new sample simply replaces one being evicted from the same
// instance. This keeps the cache's live size at or below max_samples
// at all times (the settled Open Question in spec §9: no transient
// overshoot).
func (c *Cache) canEvictForKeepLast(ie *instanceEntries) bool {
	if ie == nil {
		return false
	}
	return len(ie.entries) >= c.history.Depth
}

func (c *Cache) evictOldest(ie *instanceEntries) {
	victim := ie.entries[0]
	ie.entries = ie.entries[1:]
	c.removeFromOrder(victim)
}

func (c *Cache) removeFromOrder(change *CacheChange) {
	for i, e := range c.order {
		if e == change {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if !change.isRead {
		c.unread--
	}
	c.releasePayload(change)
	c.recordOccupancy()
}

// Remove deletes change from the cache (explicit take, lifespan
// expiry, or teardown). It returns false if change was not present.
func (c *Cache) Remove(change *CacheChange) bool {
	handle := c.instanceHandle(change.InstanceHandle)
	ie := c.findInstance(handle)
	found := false
	for _, e := range c.order {
		if e == change {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	c.removeFromOrder(change)
	if ie != nil {
		for i, e := range ie.entries {
			if e == change {
				ie.entries = append(ie.entries[:i], ie.entries[i+1:]...)
				break
			}
		}
		if len(ie.entries) == 0 {
			c.removeInstance(ie)
			c.recordOccupancy()
		}
	}
	return true
}

// RemoveByWriter removes every entry sourced from writer and returns
// how many were removed: the eager form of unmatch cleanup. The
// reader package does not call it; its unmatch cleanup is lazy, done
// by the read/take scan.
func (c *Cache) RemoveByWriter(writer rtps.GUID) int {
	var victims []*CacheChange
	for _, e := range c.order {
		if e.WriterGUID == writer {
			victims = append(victims, e)
		}
	}
	for _, v := range victims {
		c.Remove(v)
	}
	return len(victims)
}

func (c *Cache) removeInstance(ie *instanceEntries) {
	for i, e := range c.instances {
		if e == ie {
			c.instances = append(c.instances[:i], c.instances[i+1:]...)
			return
		}
	}
}

// IterateInOrder returns a snapshot slice of every cached entry,
// ordered by SeqNum within each WriterGUID and interleaved across
// writers by reception time (spec §4.3: "iteration in strict
// per-writer sequence-number order; interleaving between writers is
// by reception time"). It is a snapshot (not a live view) so that
// callers may safely mutate the cache (e.g. via Remove) while
// scanning, matching spec §9's "collect victims, delete after the
// scan ends" strategy for iterator-invalidating mutation.
func (c *Cache) IterateInOrder() []*CacheChange {
	out := make([]*CacheChange, len(c.order))
	copy(out, c.order)

	// Reordering happens in place, per writer, keeping each writer's
	// slots (its positions in reception order) fixed relative to every
	// other writer's: only the entries occupying one writer's own
	// slots get reshuffled, by SeqNum.
	positions := make(map[rtps.GUID][]int)
	for i, e := range out {
		positions[e.WriterGUID] = append(positions[e.WriterGUID], i)
	}
	for _, idxs := range positions {
		if len(idxs) < 2 {
			continue
		}
		entries := make([]*CacheChange, len(idxs))
		for j, idx := range idxs {
			entries[j] = out[idx]
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].SeqNum < entries[b].SeqNum })
		for j, idx := range idxs {
			out[idx] = entries[j]
		}
	}
	return out
}

// LookupInstance returns the entries for handle in reception order.
func (c *Cache) LookupInstance(handle rtps.InstanceHandle) []*CacheChange {
	ie := c.findInstance(c.instanceHandle(handle))
	if ie == nil {
		return nil
	}
	out := make([]*CacheChange, len(ie.entries))
	copy(out, ie.entries)
	return out
}

// MarkRead flips change's isRead flag and decrements the unread
// counter, maintaining invariant 7.
func (c *Cache) MarkRead(change *CacheChange) {
	if change.isRead {
		return
	}
	change.isRead = true
	c.unread--
}

// UnreadCount returns the number of cached entries with isRead=false.
func (c *Cache) UnreadCount() int { return c.unread }

// Len returns the total number of live entries.
func (c *Cache) Len() int { return len(c.order) }

func (c *Cache) bumpRejected() {
	c.statsMu.Lock()
	c.stats.Rejected++
	c.statsMu.Unlock()
}

// recordOccupancy refreshes the statsMu-guarded occupancy fields of
// stats; called by every mutator while the endpoint lock is held, so
// GetStats never has to read c.order/c.instances itself.
func (c *Cache) recordOccupancy() {
	c.statsMu.Lock()
	c.stats.Samples = len(c.order)
	c.stats.Instances = len(c.instances)
	c.statsMu.Unlock()
}

// GetStats returns an occupancy snapshot. Safe to call without the
// endpoint lock (grounded on packetcache.Cache.GetStats, which uses
// its own mutex precisely so monitoring doesn't need to pay for the
// reader's lock): every field is written by statsMu-guarded mutator
// calls, never read directly off c.order/c.instances here.
func (c *Cache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
