// Package rtps defines the wire-independent data model shared by the
// stateful subscription core: GUIDs, sequence numbers, instance
// handles, change and topic kinds, and topic attributes.
package rtps

import "fmt"

// GUID is a 16-byte globally unique endpoint identity: a 12-byte
// participant prefix followed by a 4-byte entity id.
type GUID [16]byte

// Prefix returns the participant prefix.
func (g GUID) Prefix() [12]byte {
	var p [12]byte
	copy(p[:], g[:12])
	return p
}

// EntityID returns the entity id.
func (g GUID) EntityID() [4]byte {
	var e [4]byte
	copy(e[:], g[12:])
	return e
}

// UnknownGUID is the all-zero GUID, used as a sentinel for "no writer".
var UnknownGUID GUID

// Compare orders GUIDs lexicographically on their bytes.
func Compare(a, b GUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (g GUID) String() string {
	return fmt.Sprintf("%x:%x", g[:12], g[12:])
}

// EntityID is the 4-byte suffix of a GUID, used on its own to
// recognise well-known builtin endpoints (trustedWriterEntityId).
type EntityID [4]byte

func (g GUID) EntityIDEquals(e EntityID) bool {
	return g.EntityID() == [4]byte(e)
}
