package reader

import (
	"time"

	"github.com/jech/rtpsreader/historycache"
	"github.com/jech/rtpsreader/rtps"
)

// ParsedChange is the decoder's already-parsed representation of one
// inbound DATA/DATAFRAG submessage, handed to OnParsedChange. Payload
// assembly out of fragments is the decoder's job, out of scope here.
type ParsedChange struct {
	SeqNum          rtps.SequenceNumber
	Kind            rtps.ChangeKind
	SourceTimestamp time.Time
	InstanceHandle  rtps.InstanceHandle
	Payload         []byte
}

// SampleState mirrors DDS's sample_state: whether a cache entry has
// been delivered to the application by a prior read or take.
type SampleState int

const (
	NotRead SampleState = iota
	Read
)

// SampleInfo accompanies every sample delivered by ReadNextSample,
// TakeNextSample or GetFirstUntakenInfo.
type SampleInfo struct {
	Kind               rtps.ChangeKind
	WriterGUID         rtps.GUID
	SourceTimestamp    time.Time
	ReceptionTimestamp time.Time
	InstanceHandle     rtps.InstanceHandle
	OwnershipStrength  int32
	ValidData          bool
	SampleState        SampleState
}

// AckNack describes an outbound ACKNACK the reader wants sent.
// Building and transmitting the wire submessage is the decoder's and
// transport's job; the reader only decides when one is due and what
// it should carry.
type AckNack struct {
	Writer rtps.GUID
	Missing []rtps.SequenceNumber
	Count   uint32
}

// AckNackSender transmits an outbound ACKNACK. Invoked outside the
// endpoint lock (see WriterProxy's HeartbeatResponder contract).
type AckNackSender func(AckNack)

// ReaderTimes bundles the timing/acceptance configuration knobs from
// spec.md §6's configuration table that are neither QoS nor topic
// attributes.
type ReaderTimes struct {
	HeartbeatResponseDelay           time.Duration
	AcceptMessagesFromUnknownWriters bool
	TrustedWriterEntityID            *rtps.EntityID
	ExpectsInlineQos                 bool
}

// LivelinessChangedStatus is a snapshot-with-reset-counters status;
// liveliness itself is computed by the (out of scope) discovery and
// liveliness protocol, so this core only carries the shape and always
// reports zero activity, ready for a discovery component to update it
// via a future setter.
type LivelinessChangedStatus struct {
	AliveCount            int32
	NotAliveCount         int32
	AliveCountChange      int32
	NotAliveCountChange   int32
	LastPublicationHandle rtps.InstanceHandle
}

// RequestedDeadlineMissedStatus is a snapshot-with-reset-counters
// status: TotalCountChange is reset to zero every time it is read.
type RequestedDeadlineMissedStatus struct {
	TotalCount         int32
	TotalCountChange   int32
	LastInstanceHandle rtps.InstanceHandle
}

// StatefulReaderListener receives asynchronous notifications,
// dispatched outside the endpoint lock from a single per-reader
// dispatcher goroutine (see §5 "Re-entrant listener dispatch").
type StatefulReaderListener interface {
	OnSubscriptionMatched(writer rtps.GUID, totalCount, totalCountChange int32)
	OnDataAvailable()
	OnLivelinessChanged(status LivelinessChangedStatus)
	OnRequestedDeadlineMissed(instance rtps.InstanceHandle, totalCount, totalCountChange int32)
	OnSampleRejected(reason historycache.RejectReason)
	OnRequestedIncompatibleQos(err error)
}
