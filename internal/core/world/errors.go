package world

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreNotInitialized is returned when code asks for a component
	// store that was never initialized. This is the recoverable sibling of
	// a borrow violation: callers are expected to check it.
	ErrStoreNotInitialized = errors.New("world: component store not initialized")

	// ErrResourceNotInitialized is returned when a resource slot is empty.
	ErrResourceNotInitialized = errors.New("world: resource not initialized")

	// ErrDeadEntity is returned when an operation targets an entity whose
	// generation no longer matches the allocator's.
	ErrDeadEntity = errors.New("world: entity is not alive")

	// ErrMissingHash is returned by state hashing when a schema carries no
	// hash capability and no override was supplied.
	ErrMissingHash = errors.New("world: schema has no hash capability")
)

// BorrowError is the panic payload for a borrow discipline violation:
// borrowing exclusively while any borrow is live, or sharing while an
// exclusive borrow is live. Violations are logic bugs in system access
// declarations, not runtime conditions, so they fault instead of returning.
type BorrowError struct {
	Name      string
	Exclusive bool
}

func (e *BorrowError) Error() string {
	mode := "shared"
	if e.Exclusive {
		mode = "exclusive"
	}
	return fmt.Sprintf("world: %s borrow of %q conflicts with a live borrow", mode, e.Name)
}
