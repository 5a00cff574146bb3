// Package qos holds the QoS value types consulted by the subscription
// core and the compatibility/self-consistency checks that gate
// acceptance, grounded on TopicAttributes::checkQos in the original
// eProsima Fast-RTPS reader.
package qos

import "time"

// HistoryKind selects how many samples per instance are retained.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// History is the HistoryQos policy.
type History struct {
	Kind  HistoryKind
	Depth int
}

// ResourceLimits is the ResourceLimitsQos policy. Zero means
// unlimited for the corresponding field.
type ResourceLimits struct {
	MaxSamples            int
	MaxInstances          int
	MaxSamplesPerInstance int
}

// OwnershipKind selects shared or exclusive ownership.
type OwnershipKind int

const (
	Shared OwnershipKind = iota
	Exclusive
)

// Ownership is the OwnershipQos policy.
type Ownership struct {
	Kind     OwnershipKind
	Strength int32
}

// Deadline is the DeadlineQos policy. A zero Period disables
// deadline tracking for the instance.
type Deadline struct {
	Period time.Duration
}

// Lifespan is the LifespanQos policy. A zero Duration disables
// lifespan expiry.
type Lifespan struct {
	Duration time.Duration
}

// ReliabilityKind selects whether missing-sample bookkeeping
// (MISSING/ACKNACK) is active for a matched writer.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// Reliability is the ReliabilityQos policy.
type Reliability struct {
	Kind ReliabilityKind
}

// LivelinessKind mirrors the DDS liveliness kinds; lease timing
// itself is computed by discovery/liveliness protocol code, out of
// scope for this core, which only carries the value for status
// snapshots.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// Liveliness is the LivelinessQos policy.
type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration time.Duration
}

// ReaderQos bundles the reader-side QoS policies consulted by
// StatefulReader.SetQos / CanQosBeUpdated.
type ReaderQos struct {
	Ownership    Ownership
	Deadline     Deadline
	Lifespan     Lifespan
	Reliability  Reliability
	Liveliness   Liveliness
	Partition    []string
	TopicData    []byte
	UserData     []byte
	LatencyBudget time.Duration
}
