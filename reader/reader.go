// Package reader implements the StatefulReader: the entry point for
// discovery match events, inbound parsed changes, application reads,
// and timers, owning the set of WriterProxies and the history cache.
// Grounded on the single endpoint-lock discipline described for the
// core (a plain sync.Mutex standing in for the spec's reentrant lock,
// with every callback that runs on a foreign goroutine re-acquiring
// it itself — the same "g.mu plus internal already-locked helpers"
// split the teacher uses in group/group.go) and on the
// unbounded.Channel + dispatcher-goroutine handoff used for listener
// notification in rtpconn/rtpreader.go's readLoop.
package reader

import (
	"log"
	"sync"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/deadline"
	"github.com/jech/rtpsreader/historycache"
	"github.com/jech/rtpsreader/lifespan"
	"github.com/jech/rtpsreader/qos"
	"github.com/jech/rtpsreader/rtps"
	"github.com/jech/rtpsreader/unbounded"
	"github.com/jech/rtpsreader/writerproxy"
)

type dispatchEvent func(StatefulReaderListener)

// StatefulReader is the reader-side mirror of a topic subscription:
// one endpoint lock guards the proxy set, the history cache, the
// deadline and lifespan trackers and the configuration fields below.
type StatefulReader struct {
	mu   sync.Mutex
	cond *sync.Cond

	enabled bool

	attrs rtps.TopicAttributes
	rqos  qos.ReaderQos
	times ReaderTimes

	clk           clock.Clock
	ackNackSender AckNackSender
	memPolicy     historycache.MemoryPolicy
	bufSize       int

	proxies map[rtps.GUID]*writerproxy.WriterProxy
	cache   *historycache.Cache

	deadlineTracker *deadline.Tracker
	lifespanSweeper *lifespan.Sweeper
	deadlineStatus  RequestedDeadlineMissedStatus

	listener StatefulReaderListener
	events   *unbounded.Channel[dispatchEvent]
	done     chan struct{}
}

// New creates a StatefulReader for a topic with the given QoS, timing
// configuration and payload memory policy. ackNackSender is invoked
// (outside the endpoint lock) whenever a matched writer's heartbeat
// response timer fires.
func New(attrs rtps.TopicAttributes, rqos qos.ReaderQos, times ReaderTimes, memPolicy historycache.MemoryPolicy, bufSize int, clk clock.Clock, ackNackSender AckNackSender) (*StatefulReader, error) {
	if err := qos.CheckQos(rqos); err != nil {
		return nil, err
	}
	cache, underProvisioned, err := historycache.New(attrs.Kind, attrs.History, attrs.ResourceLimits, memPolicy, bufSize)
	if err != nil {
		return nil, err
	}
	if underProvisioned {
		log.Printf("reader: topic %v is under-provisioned: max_samples_per_instance * max_instances exceeds max_samples", attrs.Name)
	}

	r := &StatefulReader{
		enabled:       true,
		attrs:         attrs,
		rqos:          rqos,
		times:         times,
		clk:           clk,
		ackNackSender: ackNackSender,
		memPolicy:     memPolicy,
		bufSize:       bufSize,
		proxies:       make(map[rtps.GUID]*writerproxy.WriterProxy),
		cache:         cache,
		events:        unbounded.New[dispatchEvent](),
		done:          make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	r.deadlineTracker = deadline.New(rqos.Deadline.Period, clk, r.onDeadlineMissed, r.onDeadlineTimerExpired)
	r.lifespanSweeper = lifespan.New(rqos.Lifespan.Duration, clk, r.onLifespanExpired, r.onLifespanTimerExpired)

	go r.dispatchLoop()
	return r, nil
}

func (r *StatefulReader) enqueue(ev dispatchEvent) {
	r.events.Put(ev)
}

func (r *StatefulReader) dispatchLoop() {
	for {
		select {
		case <-r.events.Ch:
			for _, ev := range r.events.Get() {
				r.mu.Lock()
				l := r.listener
				r.mu.Unlock()
				if l != nil {
					ev(l)
				}
			}
		case <-r.done:
			return
		}
	}
}

// onHeartbeatResponse is the HeartbeatResponder handed to every
// WriterProxy: it is invoked from a timer goroutine with no lock
// held, re-acquires the endpoint lock, looks the proxy back up (it
// may have been unmatched since the timer was armed) and reads its
// MissingSet/HeartbeatCount before calling out to ackNackSender
// outside the lock again.
func (r *StatefulReader) onHeartbeatResponse(writer rtps.GUID) {
	r.mu.Lock()
	wp, ok := r.proxies[writer]
	var missing []rtps.SequenceNumber
	var count uint32
	if ok {
		missing = wp.MissingSet()
		count = wp.HeartbeatCount()
	}
	r.mu.Unlock()

	if ok && r.ackNackSender != nil {
		r.ackNackSender(AckNack{Writer: writer, Missing: missing, Count: count})
	}
}

func (r *StatefulReader) onDeadlineTimerExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	r.deadlineTracker.CheckExpired(r.clk.Now())
}

func (r *StatefulReader) onLifespanTimerExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	r.lifespanSweeper.CheckExpired(r.clk.Now())
}

// onDeadlineMissed runs with the endpoint lock held (deadline.Tracker
// only invokes it from CheckExpired, itself only entered under lock).
func (r *StatefulReader) onDeadlineMissed(instance rtps.InstanceHandle, _, change int32) {
	r.deadlineStatus.TotalCount += change
	r.deadlineStatus.TotalCountChange += change
	r.deadlineStatus.LastInstanceHandle = instance
	total := r.deadlineStatus.TotalCount
	r.enqueue(func(l StatefulReaderListener) {
		l.OnRequestedDeadlineMissed(instance, total, change)
	})
}

// onLifespanExpired runs with the endpoint lock held, for the same
// reason as onDeadlineMissed.
func (r *StatefulReader) onLifespanExpired(change *historycache.CacheChange) {
	r.cache.Remove(change)
}

// MatchWriterAdd registers a newly matched writer. It is idempotent:
// a second call for the same GUID is a no-op returning false.
func (r *StatefulReader) MatchWriterAdd(desc writerproxy.Descriptor) bool {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.proxies[desc.GUID]; exists {
		r.mu.Unlock()
		return false
	}
	wp := writerproxy.New(desc, r.times.HeartbeatResponseDelay, r.clk, r.onHeartbeatResponse)
	r.proxies[desc.GUID] = wp
	total := int32(len(r.proxies))
	guid := desc.GUID
	r.mu.Unlock()

	r.enqueue(func(l StatefulReaderListener) {
		l.OnSubscriptionMatched(guid, total, 1)
	})
	return true
}

// MatchWriterRemove destroys the proxy for guid. Cache entries it
// sourced are not purged immediately: they are garbage-collected
// lazily during the next read/take scan (§4.1.3).
func (r *StatefulReader) MatchWriterRemove(guid rtps.GUID) bool {
	r.mu.Lock()
	wp, ok := r.proxies[guid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	wp.Stop()
	delete(r.proxies, guid)
	total := int32(len(r.proxies))
	r.mu.Unlock()

	r.enqueue(func(l StatefulReaderListener) {
		l.OnSubscriptionMatched(guid, total, -1)
	})
	return true
}

// IsMatched reports whether guid currently has a live proxy.
func (r *StatefulReader) IsMatched(guid rtps.GUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.proxies[guid]
	return ok
}

// OnParsedChange implements the sample-acceptance algorithm of
// spec §4.1.1.
func (r *StatefulReader) OnParsedChange(change ParsedChange, sourceGUID rtps.GUID) {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}

	wp, ok := r.proxies[sourceGUID]
	if !ok {
		trusted := r.times.TrustedWriterEntityID != nil &&
			sourceGUID.EntityIDEquals(*r.times.TrustedWriterEntityID)
		acceptUnknown := r.times.AcceptMessagesFromUnknownWriters
		r.mu.Unlock()
		switch {
		case trusted:
			// Builtin endpoint traffic is accepted without a proxy
			// and never enters the user cache: there is nothing
			// further for this core to do with it.
		case acceptUnknown:
			log.Printf("reader: dropping change from unmatched writer %v", sourceGUID)
		default:
			log.Printf("reader: rejecting change from unmatched writer %v", sourceGUID)
		}
		return
	}

	lastRemoved := wp.LastRemovedSeqNum()
	maxAvailable := wp.AvailableChangesMax()
	if change.SeqNum <= lastRemoved || change.SeqNum <= maxAvailable {
		r.mu.Unlock()
		log.Printf("reader: dropping duplicate/stale seq %d from %v", change.SeqNum, sourceGUID)
		return
	}

	cc := &historycache.CacheChange{
		WriterGUID:      sourceGUID,
		SeqNum:          change.SeqNum,
		Kind:            change.Kind,
		SourceTimestamp: change.SourceTimestamp,
		InstanceHandle:  change.InstanceHandle,
		Payload:         change.Payload,
	}
	added, reason := r.cache.Add(cc)
	if !added {
		r.mu.Unlock()
		log.Printf("reader: rejecting seq %d from %v: %v", change.SeqNum, sourceGUID, reason)
		r.enqueue(func(l StatefulReaderListener) {
			l.OnSampleRejected(reason)
		})
		return
	}

	wp.ReceivedChangeSet(change.SeqNum)
	r.deadlineTracker.Touch(change.InstanceHandle)
	r.lifespanSweeper.Track(cc)
	r.cond.Broadcast()
	r.mu.Unlock()

	r.enqueue(func(l StatefulReaderListener) {
		l.OnDataAvailable()
	})
}

// OnHeartbeat forwards a HEARTBEAT submessage to the matched writer's
// proxy, which may arm an ACKNACK response.
func (r *StatefulReader) OnHeartbeat(sourceGUID rtps.GUID, first, last rtps.SequenceNumber, final bool, count uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	wp, ok := r.proxies[sourceGUID]
	if !ok {
		return
	}
	wp.OnHeartbeat(first, last, final, count)
}

// OnGap forwards a GAP submessage to the matched writer's proxy.
func (r *StatefulReader) OnGap(sourceGUID rtps.GUID, gapStart rtps.SequenceNumber, gapList []rtps.SequenceNumber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	wp, ok := r.proxies[sourceGUID]
	if !ok {
		return
	}
	wp.OnGap(gapStart, gapList)
}

// UpdateTimes propagates a new heartbeat-response delay to every
// matched proxy and future ones.
func (r *StatefulReader) UpdateTimes(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times.HeartbeatResponseDelay = delay
	for _, wp := range r.proxies {
		wp.UpdateResponseDelay(delay)
	}
}

// SetQos updates the reader's QoS, rejecting a change to an immutable
// policy or an internally inconsistent combination.
func (r *StatefulReader) SetQos(newQos qos.ReaderQos) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrAlreadyDeleted
	}
	if !qos.CanQosBeUpdated(newQos, r.rqos) {
		if err := qos.CheckQos(newQos); err != nil {
			return ErrInconsistentPolicy
		}
		return ErrImmutablePolicy
	}
	r.rqos = newQos
	r.deadlineTracker.SetPeriod(newQos.Deadline.Period)
	r.lifespanSweeper.SetDuration(newQos.Lifespan.Duration)
	return nil
}

// SetTopic replaces the topic attributes. While the cache holds any
// sample, the topic's resource sizing is frozen and SetTopic fails
// with ErrPreconditionNotMet, the same "precondition not met"
// contract the original gives a DataReader that has already started
// receiving data; once the cache is empty again (every sample taken,
// evicted or expired) the attributes may be replaced.
func (r *StatefulReader) SetTopic(attrs rtps.TopicAttributes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrAlreadyDeleted
	}
	if r.cache.Len() > 0 {
		return ErrPreconditionNotMet
	}
	cache, underProvisioned, err := historycache.New(attrs.Kind, attrs.History, attrs.ResourceLimits, r.memPolicy, r.bufSize)
	if err != nil {
		return ErrInconsistentPolicy
	}
	if underProvisioned {
		log.Printf("reader: topic %v is under-provisioned", attrs.Name)
	}
	r.attrs = attrs
	r.cache = cache
	return nil
}

// SetAttributes updates the timing/acceptance configuration knobs
// that are neither QoS nor topic attributes.
func (r *StatefulReader) SetAttributes(times ReaderTimes) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return ErrAlreadyDeleted
	}
	r.times = times
	for _, wp := range r.proxies {
		wp.UpdateResponseDelay(times.HeartbeatResponseDelay)
	}
	return nil
}

// SetListener replaces the reader's notification listener.
func (r *StatefulReader) SetListener(l StatefulReaderListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// WaitForUnreadMessage blocks until the cache holds at least one
// unread entry or timeout elapses, returning whether it woke because
// data is available. A non-positive timeout waits indefinitely.
func (r *StatefulReader) WaitForUnreadMessage(timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache.UnreadCount() > 0 {
		return true
	}
	if !r.enabled {
		return false
	}

	var expired bool
	var timer clock.Timer
	if timeout > 0 {
		timer = r.clk.AfterFunc(timeout, func() {
			r.mu.Lock()
			expired = true
			r.cond.Broadcast()
			r.mu.Unlock()
		})
	}
	for r.cache.UnreadCount() == 0 && !expired && r.enabled {
		r.cond.Wait()
	}
	if timer != nil {
		timer.Stop()
	}
	return r.cache.UnreadCount() > 0
}

// Disable atomically detaches the listener, cancels every proxy's and
// tracker's timer, and rejects further matches. Destruction is safe
// only after Disable has returned.
func (r *StatefulReader) Disable() {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	r.enabled = false
	r.listener = nil
	for _, wp := range r.proxies {
		wp.Stop()
	}
	r.deadlineTracker.Stop()
	r.lifespanSweeper.Stop()
	r.cond.Broadcast()
	r.mu.Unlock()

	close(r.done)
}
