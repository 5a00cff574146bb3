// Package guid builds rtps.GUID and rtps.InstanceHandle values. The
// RTPS wire format assigns GUIDs during discovery, out of scope here;
// this package exists for fixtures and tests, where a 16-byte random
// identity is exactly what google/uuid already provides.
package guid

import (
	"github.com/google/uuid"

	"github.com/jech/rtpsreader/rtps"
)

// New builds a GUID from an explicit 12-byte participant prefix and
// 4-byte entity id.
func New(prefix [12]byte, entity [4]byte) rtps.GUID {
	var g rtps.GUID
	copy(g[:12], prefix[:])
	copy(g[12:], entity[:])
	return g
}

// Random returns a GUID derived from a random UUID, for use in tests
// and fixtures that need distinct writer identities.
func Random() rtps.GUID {
	return rtps.GUID(uuid.New())
}

// RandomInstanceHandle returns an InstanceHandle derived from a random
// UUID, for use in multi-instance test fixtures.
func RandomInstanceHandle() rtps.InstanceHandle {
	return rtps.InstanceHandle(uuid.New())
}

// EntityID builds the 4-byte well-known entity id used to recognise
// builtin endpoints (trustedWriterEntityId).
func EntityID(b0, b1, b2, b3 byte) rtps.EntityID {
	return rtps.EntityID{b0, b1, b2, b3}
}
