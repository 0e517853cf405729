package value

import (
	"errors"
	"fmt"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
)

// Navigation errors
var (
	ErrNotStruct       = errors.New("value: schema is not a struct, cannot navigate fields")
	ErrNotEnum         = errors.New("value: schema is not an enum")
	ErrNoSuchField     = errors.New("value: no field with that name")
	ErrFieldOutOfRange = errors.New("value: field index out of range")
	ErrEmptyPath       = errors.New("value: empty field path")
)

// Ownership errors
var (
	ErrMissingDefault = errors.New("value: schema has no default capability")
	ErrMissingClone   = errors.New("value: schema has no clone capability")
	ErrBoxConsumed    = errors.New("value: box already dropped or forgotten")
	ErrTypeUnbound    = errors.New("value: Go type has no registered schema")
)

// SchemaMismatchError is the hard fault raised when a type-erased cast's
// carried schema id does not equal the target's schema id. It is never a
// best-effort reinterpretation: reinterpreting bytes under a mismatched
// layout is a memory-safety violation, so casts panic with this value.
type SchemaMismatchError struct {
	Want *schema.Schema
	Got  *schema.Schema
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("value: schema mismatch: have %q (id %d), want %q (id %d)",
		e.Got.Name(), e.Got.ID(), e.Want.Name(), e.Want.ID())
}
