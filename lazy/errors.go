package lazy

import "errors"

var (
	// ErrNotReady is returned when a stream's finalized index is missing,
	// partial or does not match its data blob.
	ErrNotReady     = errors.New("lazy: store not ready")
	ErrTypeMismatch = errors.New("lazy: record type mismatch")
	ErrOutOfRange   = errors.New("lazy: record index out of range")
	ErrClosed       = errors.New("lazy: store closed")
)
