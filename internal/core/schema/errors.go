package schema

import "errors"

// Registration errors
var (
	ErrLayoutOverflow    = errors.New("schema: computed layout exceeds representable limits")
	ErrInfiniteLayout    = errors.New("schema: struct directly contains itself, layout would be infinite")
	ErrInvalidKind       = errors.New("schema: invalid or incomplete kind")
	ErrDuplicateName     = errors.New("schema: name already registered")
	ErrNilFieldSchema    = errors.New("schema: struct field references a nil schema")
	ErrDuplicateVariant  = errors.New("schema: duplicate enum discriminant")
	ErrNoContainerHooks  = errors.New("schema: vec/map container hooks not installed")
	ErrForeignLayout     = errors.New("schema: computed layout disagrees with the Go type's layout")
	ErrTypeNotRegistered = errors.New("schema: Go type has no registered schema")

	// Type data errors

	ErrTypeDataConflict = errors.New("schema: type data of this kind already present")
)
