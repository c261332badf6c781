package vector

import "errors"

var (
	// ErrNotReady is returned for any access before the manager holds a
	// loaded index pair, or after a cold-start failure. Wrapped errors
	// carry the reason.
	ErrNotReady = errors.New("index not ready")

	// ErrOutOfRange is returned when an ordinal falls outside [0, Count).
	ErrOutOfRange = errors.New("ordinal out of range")

	// ErrCorruptIndexState is returned when the vector count and the
	// identifier count disagree. Jobs must halt rather than write
	// artifacts derived from a broken pair.
	ErrCorruptIndexState = errors.New("corrupt index state: vector count and identifier count diverge")
)
