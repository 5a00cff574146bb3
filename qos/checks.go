package qos

import "errors"

// ErrInconsistentPolicy is returned by CheckQos/CheckTopic when a QoS
// combination is internally inconsistent (e.g. KEEP_LAST with a depth
// exceeding the resource limits).
var ErrInconsistentPolicy = errors.New("inconsistent policy")

// CheckQos rejects internally inconsistent reader QoS combinations.
// It never rejects on a missing/zero-value policy; zero means "use
// the default", mirroring the teacher's permissive JSON-decoded
// configuration structs.
func CheckQos(q ReaderQos) error {
	if q.Deadline.Period < 0 {
		return ErrInconsistentPolicy
	}
	if q.Lifespan.Duration < 0 {
		return ErrInconsistentPolicy
	}
	if q.Ownership.Kind == Exclusive && q.Ownership.Strength < 0 {
		return ErrInconsistentPolicy
	}
	return nil
}

// immutable reports whether a ReaderQos field may not change once the
// reader is enabled. Deadline period, latency budget, ownership
// strength, partition, topic data, user data and lifespan are
// mutable; everything else (reliability kind, ownership kind,
// liveliness kind) is immutable after enable, per spec.
func immutable(to, from ReaderQos) bool {
	if to.Reliability.Kind != from.Reliability.Kind {
		return true
	}
	if to.Ownership.Kind != from.Ownership.Kind {
		return true
	}
	if to.Liveliness.Kind != from.Liveliness.Kind {
		return true
	}
	return false
}

// CanQosBeUpdated reports whether moving a live reader's QoS from
// "from" to "to" is legal: it must not touch an immutable policy and
// the result must still be internally consistent.
func CanQosBeUpdated(to, from ReaderQos) bool {
	if immutable(to, from) {
		return false
	}
	return CheckQos(to) == nil
}

// CheckTopic validates a topic's History/ResourceLimits combination,
// ported from TopicAttributes::checkQos in the original Fast-RTPS
// reader. It returns a fatal error for inconsistent policies and logs
// (via the caller, see historycache) a soft warning condition through
// the returned underProvisioned flag rather than failing.
func CheckTopic(withKey bool, h History, r ResourceLimits) (underProvisioned bool, err error) {
	if withKey && r.MaxSamplesPerInstance > 0 && r.MaxSamples > 0 &&
		r.MaxSamplesPerInstance > r.MaxSamples {
		return false, ErrInconsistentPolicy
	}

	if withKey && r.MaxSamplesPerInstance > 0 && r.MaxInstances > 0 && r.MaxSamples > 0 {
		if r.MaxSamplesPerInstance*r.MaxInstances > r.MaxSamples {
			underProvisioned = true
		}
	}

	if h.Kind == KeepLast {
		if h.Depth <= 0 {
			return underProvisioned, ErrInconsistentPolicy
		}
		if r.MaxSamples > 0 && h.Depth > r.MaxSamples {
			return underProvisioned, ErrInconsistentPolicy
		}
		if withKey && r.MaxSamplesPerInstance > 0 && h.Depth > r.MaxSamplesPerInstance {
			return underProvisioned, ErrInconsistentPolicy
		}
	}

	return underProvisioned, nil
}
