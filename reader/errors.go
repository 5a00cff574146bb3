package reader

import "errors"

// Error kinds returned synchronously from the reader's public
// contract, grounded on rtpconn.go's package-level sentinel errors
// (ErrWriterDead, ErrUnknownTrack, ...) rather than a single opaque
// error type, so callers can errors.Is against the exact kind.
var (
	ErrImmutablePolicy    = errors.New("reader: immutable policy")
	ErrInconsistentPolicy = errors.New("reader: inconsistent policy")
	ErrPreconditionNotMet = errors.New("reader: precondition not met")
	ErrOutOfResources     = errors.New("reader: out of resources")
	ErrAlreadyDeleted     = errors.New("reader: already deleted")
	ErrTimeout            = errors.New("reader: timeout")
	ErrNoData             = errors.New("reader: no data")
	ErrBadParameter       = errors.New("reader: bad parameter")
)
