package reader

import (
	"github.com/jech/rtpsreader/historycache"
	"github.com/jech/rtpsreader/rtps"
	"github.com/jech/rtpsreader/writerproxy"
)

// scan walks the cache in per-writer sequence order, collecting any
// entry whose proxy has vanished for lazy garbage collection (§4.1.3,
// §9 "Iterator-invalidating mutation": collect victims during the
// scan, delete once it ends) and returning the first deliverable
// entry alongside its proxy, if any. requireUnread restricts the
// search to entries that have not yet been delivered by a prior
// Read/Take (used by ReadNextSample/TakeNextSample); when false, the
// first deliverable entry regardless of read state is returned (used
// by GetFirstUntakenInfo, which reports the first entry still present
// in the cache, read or not).
func (r *StatefulReader) scan(requireUnread bool) (*historycache.CacheChange, *writerproxy.WriterProxy) {
	entries := r.cache.IterateInOrder()
	var orphans []*historycache.CacheChange
	var found *historycache.CacheChange
	var foundProxy *writerproxy.WriterProxy

	for _, e := range entries {
		wp, ok := r.proxies[e.WriterGUID]
		if !ok {
			orphans = append(orphans, e)
			continue
		}
		if found == nil && (!requireUnread || !e.IsRead()) && wp.AvailableChangesMax() >= e.SeqNum {
			found = e
			foundProxy = wp
		}
	}

	for _, o := range orphans {
		r.cache.Remove(o)
	}
	return found, foundProxy
}

func sampleInfo(e *historycache.CacheChange, wp *writerproxy.WriterProxy, state SampleState) SampleInfo {
	return SampleInfo{
		Kind:               e.Kind,
		WriterGUID:         e.WriterGUID,
		SourceTimestamp:    e.SourceTimestamp,
		ReceptionTimestamp: e.ReceptionTimestamp(),
		InstanceHandle:     e.InstanceHandle,
		OwnershipStrength:  wp.Descriptor().OwnershipStrength,
		ValidData:          e.Kind == rtps.Alive,
		SampleState:        state,
	}
}

// ReadNextSample delivers the earliest deliverable, unread cache
// entry without removing it. The entry stays in the cache, where
// GetFirstUntakenInfo still reports it, but later ReadNextSample and
// TakeNextSample calls skip it, since both only consider unread
// entries.
func (r *StatefulReader) ReadNextSample(buf []byte) ([]byte, SampleInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil, SampleInfo{}, ErrAlreadyDeleted
	}

	entry, wp := r.scan(true)
	if entry == nil {
		return nil, SampleInfo{}, ErrNoData
	}

	info := sampleInfo(entry, wp, NotRead)
	r.cache.MarkRead(entry)
	payload := append(buf[:0], entry.Payload...)
	return payload, info, nil
}

// TakeNextSample delivers and removes the earliest deliverable,
// unread cache entry, advancing its proxy's last-removed watermark.
func (r *StatefulReader) TakeNextSample(buf []byte) ([]byte, SampleInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil, SampleInfo{}, ErrAlreadyDeleted
	}

	entry, wp := r.scan(true)
	if entry == nil {
		return nil, SampleInfo{}, ErrNoData
	}

	info := sampleInfo(entry, wp, NotRead)
	payload := append(buf[:0], entry.Payload...)
	r.lifespanSweeper.Untrack(entry)
	r.cache.Remove(entry)
	wp.RemoveChangesUpTo(entry.SeqNum)
	return payload, info, nil
}

// GetFirstUntakenInfo returns the metadata of the earliest
// deliverable entry still present in the cache, whether or not it has
// already been read (it is "untaken", not necessarily unread).
func (r *StatefulReader) GetFirstUntakenInfo() (SampleInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return SampleInfo{}, ErrAlreadyDeleted
	}

	entry, wp := r.scan(false)
	if entry == nil {
		return SampleInfo{}, ErrNoData
	}
	state := NotRead
	if entry.IsRead() {
		state = Read
	}
	return sampleInfo(entry, wp, state), nil
}

// GetRequestedDeadlineMissedStatus returns the cumulative deadline
// miss status, resetting the incremental counter.
func (r *StatefulReader) GetRequestedDeadlineMissedStatus() RequestedDeadlineMissedStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := r.deadlineStatus
	r.deadlineStatus.TotalCountChange = 0
	return status
}

// GetLivelinessChangedStatus returns the liveliness status snapshot.
// Liveliness itself is computed by discovery, out of scope here; this
// always reports a zero-activity snapshot, present so the upward
// contract matches spec.md §6 in full.
func (r *StatefulReader) GetLivelinessChangedStatus() LivelinessChangedStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return LivelinessChangedStatus{}
}
