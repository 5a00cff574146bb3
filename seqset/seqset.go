// Package seqset implements a sliding bitmap range set over RTPS
// sequence numbers, used to track which sequence numbers in a
// heartbeat-declared window are still missing. Grounded on the
// teacher's packetcache/packetwindow bitmap (base + shifting uint32
// window), generalised from 16-bit RTP sequence numbers to the
// 64-bit, non-wrapping rtps.SequenceNumber space.
package seqset

import (
	"github.com/jech/rtpsreader/rtps"
)

const wordBits = 64

// Set tracks membership of sequence numbers at or above a sliding
// base. Sequence numbers below the base are considered to have left
// the window (already resolved one way or another) and read as
// absent.
type Set struct {
	base  rtps.SequenceNumber
	words []uint64
}

// New creates an empty set whose window starts at base.
func New(base rtps.SequenceNumber) *Set {
	return &Set{base: base}
}

// Base returns the current sliding window origin.
func (s *Set) Base() rtps.SequenceNumber {
	return s.base
}

func (s *Set) wordIndex(seq rtps.SequenceNumber) (int, uint, bool) {
	if seq < s.base {
		return 0, 0, false
	}
	off := uint64(seq - s.base)
	return int(off / wordBits), uint(off % wordBits), true
}

// Add marks seq as a member of the set, growing the window if seq is
// ahead of it. Adding a sequence number behind the base is a no-op.
func (s *Set) Add(seq rtps.SequenceNumber) {
	idx, bit, ok := s.wordIndex(seq)
	if !ok {
		return
	}
	for idx >= len(s.words) {
		s.words = append(s.words, 0)
	}
	s.words[idx] |= 1 << bit
}

// Contains reports whether seq is a member of the set.
func (s *Set) Contains(seq rtps.SequenceNumber) bool {
	idx, bit, ok := s.wordIndex(seq)
	if !ok || idx >= len(s.words) {
		return false
	}
	return s.words[idx]&(1<<bit) != 0
}

// Advance slides the base forward to newBase, discarding membership
// information below it. It is a no-op if newBase is not ahead of the
// current base.
func (s *Set) Advance(newBase rtps.SequenceNumber) {
	if newBase <= s.base {
		return
	}
	shift := uint64(newBase - s.base)
	wordShift := int(shift / wordBits)
	bitShift := uint(shift % wordBits)

	if wordShift >= len(s.words) {
		s.words = nil
		s.base = newBase
		return
	}

	s.words = s.words[wordShift:]
	if bitShift != 0 {
		for i := 0; i < len(s.words); i++ {
			w := s.words[i] >> bitShift
			if i+1 < len(s.words) {
				w |= s.words[i+1] << (wordBits - bitShift)
			}
			s.words[i] = w
		}
	}
	s.base = newBase
}

// Missing returns, in ascending order, every sequence number in
// [s.Base(), upTo] that is not a member of the set. Used to build the
// MISSING bitmap carried by an outbound ACKNACK.
func (s *Set) Missing(upTo rtps.SequenceNumber) []rtps.SequenceNumber {
	if upTo < s.base {
		return nil
	}
	var out []rtps.SequenceNumber
	for seq := s.base; seq <= upTo; seq++ {
		if !s.Contains(seq) {
			out = append(out, seq)
		}
	}
	return out
}
