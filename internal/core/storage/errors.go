package storage

import "errors"

var (
	// ErrUnrepresentable means a schema whose values contain Go pointers
	// (strings, pointered foreign types) was given no registered Go type,
	// so no collector-visible backing can be allocated for it.
	ErrUnrepresentable = errors.New("storage: pointer-bearing schema needs a registered Go type for backing storage")

	// ErrMissingClone and friends report an absent raw-table capability a
	// container operation required. Absent capabilities fail fast, they
	// never silently no-op.
	ErrMissingClone   = errors.New("storage: element schema has no clone capability")
	ErrMissingDefault = errors.New("storage: element schema has no default capability")
	ErrMissingHash    = errors.New("storage: key schema has no hash capability")
	ErrMissingEq      = errors.New("storage: key schema has no equality capability")
)
