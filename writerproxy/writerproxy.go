// Package writerproxy implements the reader-side mirror of a matched
// writer's sequence-number state: the per-writer protocol state
// machine driven by out-of-order arrivals, heartbeats and gaps.
// Grounded on StatefulReader.cpp / WriterProxy in the original
// eProsima Fast-RTPS reader (received_change_set,
// available_changes_max/min, removeChangesFromWriterUpTo), using the
// teacher's "called locked" convention (estimator.go) since every
// method here assumes the owning StatefulReader's endpoint lock is
// already held by the caller — galene explicitly rejects fine-grained
// per-object locks here for the same reason the spec does: the
// deliverability algorithm needs a consistent snapshot across every
// proxy of a reader.
package writerproxy

import (
	"math/rand"
	"sort"
	"time"

	"github.com/jech/rtpsreader/clock"
	"github.com/jech/rtpsreader/qos"
	"github.com/jech/rtpsreader/rtps"
	"github.com/jech/rtpsreader/seqset"
)

// Status is the per-sequence-number state of a ChangeFromWriter entry.
type Status int

const (
	Unknown Status = iota
	Missing
	Received
	Lost
	Irrelevant
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "MISSING"
	case Received:
		return "RECEIVED"
	case Lost:
		return "LOST"
	case Irrelevant:
		return "IRRELEVANT"
	default:
		return "UNKNOWN"
	}
}

// resolved statuses count towards the contiguous watermark: the
// sample is accounted for even though it may never be delivered.
func (s Status) resolved() bool {
	return s == Received || s == Lost || s == Irrelevant
}

// ChangeFromWriter is one sequence number's bookkeeping entry.
type ChangeFromWriter struct {
	SeqNum rtps.SequenceNumber
	Status Status
}

// Descriptor is the reader's view of a matched writer, supplied by
// discovery. Locators are carried opaquely: resolving them into
// sockets is the transport layer's job, out of scope here.
type Descriptor struct {
	GUID              rtps.GUID
	OwnershipStrength int32
	Reliability       qos.ReliabilityKind
	Locators          [][]byte
}

// HeartbeatResponder is invoked from a timer goroutine when a
// heartbeat-response delay elapses. It carries no snapshot of the
// MISSING set: reading proxy state safely requires the reader's
// endpoint lock, which only the reader can acquire, so the responder
// is expected to re-acquire that lock, look the proxy back up by
// GUID (it may have been unmatched since the timer was armed) and
// read MissingSet itself before building the outbound ACKNACK.
type HeartbeatResponder func(writer rtps.GUID)

// WriterProxy is the per-matched-writer record described in spec §4.2.
type WriterProxy struct {
	descriptor Descriptor

	changes     []ChangeFromWriter // strictly increasing SeqNum, no duplicates
	lastRemoved rtps.SequenceNumber
	resolved    *seqset.Set // mirrors changes: member iff RECEIVED/LOST/IRRELEVANT

	heartbeatCount uint32
	responseDelay  time.Duration
	clock          clock.Clock
	timer          clock.Timer
	respond        HeartbeatResponder
}

// New creates a proxy for a newly matched writer.
func New(desc Descriptor, heartbeatResponseDelay time.Duration, clk clock.Clock, respond HeartbeatResponder) *WriterProxy {
	return &WriterProxy{
		descriptor:    desc,
		responseDelay: heartbeatResponseDelay,
		resolved:      seqset.New(1),
		clock:         clk,
		respond:       respond,
	}
}

// GUID returns the matched writer's identity.
func (wp *WriterProxy) GUID() rtps.GUID { return wp.descriptor.GUID }

// HeartbeatCount returns the count carried by the most recently
// processed heartbeat, echoed back in the outbound ACKNACK.
func (wp *WriterProxy) HeartbeatCount() uint32 { return wp.heartbeatCount }

// Descriptor returns the proxy's writer descriptor.
func (wp *WriterProxy) Descriptor() Descriptor { return wp.descriptor }

// LastRemovedSeqNum returns the highest sequence number passed to
// RemoveChangesUpTo (SeqNumUnknown if none has been); bookkeeping at
// or below it has been dropped. Cache eviction does not advance it.
func (wp *WriterProxy) LastRemovedSeqNum() rtps.SequenceNumber { return wp.lastRemoved }

// UpdateResponseDelay propagates a new heartbeat-response delay bound.
func (wp *WriterProxy) UpdateResponseDelay(d time.Duration) { wp.responseDelay = d }

func (wp *WriterProxy) find(seq rtps.SequenceNumber) (int, bool) {
	i := sort.Search(len(wp.changes), func(i int) bool {
		return wp.changes[i].SeqNum >= seq
	})
	if i < len(wp.changes) && wp.changes[i].SeqNum == seq {
		return i, true
	}
	return i, false
}

// insertIfAbsent inserts a new entry with the given status at the
// correct sorted position unless one already exists, in which case it
// is left untouched.
func (wp *WriterProxy) insertIfAbsent(seq rtps.SequenceNumber, status Status) {
	i, found := wp.find(seq)
	if found {
		return
	}
	wp.changes = append(wp.changes, ChangeFromWriter{})
	copy(wp.changes[i+1:], wp.changes[i:])
	wp.changes[i] = ChangeFromWriter{SeqNum: seq, Status: status}
}

// setStatus sets (inserting if necessary) the status of seq, refusing
// to downgrade an entry away from RECEIVED. Resolved statuses (§4.2:
// RECEIVED, LOST, IRRELEVANT) are mirrored into the resolved bitmap
// that backs MissingSet's ACKNACK-building query.
func (wp *WriterProxy) setStatus(seq rtps.SequenceNumber, status Status) {
	i, found := wp.find(seq)
	if found {
		if wp.changes[i].Status == Received {
			return
		}
		wp.changes[i].Status = status
	} else {
		wp.changes = append(wp.changes, ChangeFromWriter{})
		copy(wp.changes[i+1:], wp.changes[i:])
		wp.changes[i] = ChangeFromWriter{SeqNum: seq, Status: status}
	}
	if status.resolved() {
		wp.resolved.Add(seq)
	}
}

func (wp *WriterProxy) highestTracked() rtps.SequenceNumber {
	if n := len(wp.changes); n > 0 {
		return wp.changes[n-1].SeqNum
	}
	return wp.lastRemoved
}

// ReceivedChangeSet flips the entry for seq to RECEIVED. On a reliable
// proxy it also creates MISSING entries for any intervening gap
// between the previously highest-known sequence number and seq; a
// best-effort proxy leaves those slots UNKNOWN. It returns false for a
// duplicate or stale (already removed) sequence number.
func (wp *WriterProxy) ReceivedChangeSet(seq rtps.SequenceNumber) bool {
	if seq <= wp.lastRemoved {
		return false
	}
	if i, found := wp.find(seq); found {
		if wp.changes[i].Status == Received {
			return false
		}
		wp.changes[i].Status = Received
		wp.resolved.Add(seq)
		return true
	}

	highest := wp.highestTracked()
	if seq > highest && wp.descriptor.Reliability != qos.BestEffort {
		for s := highest + 1; s < seq; s++ {
			wp.insertIfAbsent(s, Missing)
		}
	}
	wp.setStatus(seq, Received)
	return true
}

// AvailableChangesMax returns the largest sequence number such that
// every sequence number up to and including it is RECEIVED,
// IRRELEVANT or LOST: the delivery watermark.
func (wp *WriterProxy) AvailableChangesMax() rtps.SequenceNumber {
	max := wp.lastRemoved
	expect := wp.lastRemoved + 1
	for _, e := range wp.changes {
		if e.SeqNum != expect || !e.Status.resolved() {
			break
		}
		max = e.SeqNum
		expect++
	}
	return max
}

// AvailableChangesMin returns the smallest RECEIVED sequence number at
// or above lastRemoved, or SeqNumUnknown if none is held.
func (wp *WriterProxy) AvailableChangesMin() rtps.SequenceNumber {
	for _, e := range wp.changes {
		if e.Status == Received {
			return e.SeqNum
		}
	}
	return rtps.SeqNumUnknown
}

// ChangeStatus reports the status of a tracked sequence number. The
// second return is false for sequence numbers this proxy has never
// heard of (status UNKNOWN, slot implicit).
func (wp *WriterProxy) ChangeStatus(seq rtps.SequenceNumber) (Status, bool) {
	if i, found := wp.find(seq); found {
		return wp.changes[i].Status, true
	}
	return Unknown, false
}

// OnHeartbeat extends the tracked range with MISSING entries for the
// heartbeat-declared window and, unless the heartbeat is final, arms
// the randomized heartbeat-response timer.
func (wp *WriterProxy) OnHeartbeat(first, last rtps.SequenceNumber, final bool, count uint32) {
	if wp.descriptor.Reliability == qos.BestEffort {
		return
	}
	if count != 0 && count <= wp.heartbeatCount {
		return
	}
	wp.heartbeatCount = count

	start := wp.highestTracked() + 1
	if first > start {
		start = first
	}
	for s := start; s <= last; s++ {
		wp.insertIfAbsent(s, Missing)
	}

	if !final {
		wp.armHeartbeatResponse()
	}
}

// armHeartbeatResponse schedules an ACKNACK after a jittered delay
// bounded by responseDelay, matching the randomized-delay requirement
// in spec §4.2 ("randomized delay up to the configured bound").
func (wp *WriterProxy) armHeartbeatResponse() {
	if wp.clock == nil || wp.respond == nil {
		return
	}
	if wp.timer != nil {
		wp.timer.Stop()
	}
	delay := time.Duration(0)
	if wp.responseDelay > 0 {
		delay = time.Duration(rand.Int63n(int64(wp.responseDelay)))
	}
	guid := wp.descriptor.GUID
	wp.timer = wp.clock.AfterFunc(delay, func() {
		wp.respond(guid)
	})
}

// MissingSet returns every sequence number currently MISSING, in
// ascending order, queried from the resolved bitmap rather than
// scanning changes (spec §2's SequenceNumberSet, sized for the
// heartbeat-declared window this proxy is tracking). Must be called
// with the reader's endpoint lock held.
func (wp *WriterProxy) MissingSet() []rtps.SequenceNumber {
	return wp.resolved.Missing(wp.highestTracked())
}

// OnGap marks gapStart and every sequence number in gapList
// IRRELEVANT, along with any sequence number below gapStart that this
// proxy has not already marked RECEIVED: the writer is declaring that
// range need not be delivered.
func (wp *WriterProxy) OnGap(gapStart rtps.SequenceNumber, gapList []rtps.SequenceNumber) {
	for s := wp.lastRemoved + 1; s < gapStart; s++ {
		wp.setStatus(s, Irrelevant)
	}
	wp.setStatus(gapStart, Irrelevant)
	for _, s := range gapList {
		wp.setStatus(s, Irrelevant)
	}
}

// MarkLost transitions a MISSING entry to LOST, used by policy code
// (external to this package) that has given up retrying a
// retransmission request.
func (wp *WriterProxy) MarkLost(seq rtps.SequenceNumber) bool {
	i, found := wp.find(seq)
	if !found || wp.changes[i].Status != Missing {
		return false
	}
	wp.changes[i].Status = Lost
	wp.resolved.Add(seq)
	return true
}

// RemoveChangesUpTo advances lastRemoved to seq, drops bookkeeping
// entries at or below it, and compacts the tracked range so it never
// grows unbounded.
func (wp *WriterProxy) RemoveChangesUpTo(seq rtps.SequenceNumber) {
	if seq <= wp.lastRemoved {
		return
	}
	wp.lastRemoved = seq
	wp.resolved.Advance(seq + 1)

	i := 0
	for i < len(wp.changes) && wp.changes[i].SeqNum <= seq {
		i++
	}
	if i == 0 {
		return
	}
	remaining := make([]ChangeFromWriter, len(wp.changes)-i)
	copy(remaining, wp.changes[i:])
	wp.changes = remaining
}

// Stop cancels any armed heartbeat-response timer, called when the
// proxy is being destroyed (unmatch or reader teardown).
func (wp *WriterProxy) Stop() {
	if wp.timer != nil {
		wp.timer.Stop()
	}
}
