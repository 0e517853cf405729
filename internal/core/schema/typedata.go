package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// typeDataMap is the per-schema side channel of auxiliary capabilities:
// asset-loader associations, custom deterministic hashes, scripting
// metatables. Each entry is itself a schema-described value, keyed by the
// schema id of its own Go type, so the core Schema struct never widens for
// collaborator concerns.
//
// The list is append-only; entries attach after registration (a scripting
// runtime binds its metatables long after the type bootstrap) but are never
// replaced or removed.
type typeDataMap struct {
	mu      sync.RWMutex
	entries []typeDataEntry
}

type typeDataEntry struct {
	key   SchemaID
	value any
}

// SetTypeData attaches a side-channel value to the schema. The value's own
// Go type must be registered; its schema id becomes the lookup key.
// Attaching a second value under the same key is rejected with a conflict,
// never silently overwritten.
func (s *Schema) SetTypeData(value any) error {
	keySchema, ok := s.registry.LookupGoType(reflect.TypeOf(value))
	if !ok {
		return fmt.Errorf("%w: %T", ErrTypeNotRegistered, value)
	}
	return s.SetTypeDataKeyed(keySchema.id, value)
}

// SetTypeDataKeyed attaches a side-channel value under an explicit key
// schema id.
func (s *Schema) SetTypeDataKeyed(key SchemaID, value any) error {
	s.typeData.mu.Lock()
	defer s.typeData.mu.Unlock()
	for _, e := range s.typeData.entries {
		if e.key == key {
			return fmt.Errorf("%w: schema %q, key id %d", ErrTypeDataConflict, s.name, key)
		}
	}
	s.typeData.entries = append(s.typeData.entries, typeDataEntry{key: key, value: value})
	return nil
}

// TypeData looks up the side-channel value stored under the key schema id.
func (s *Schema) TypeData(key SchemaID) (any, bool) {
	s.typeData.mu.RLock()
	defer s.typeData.mu.RUnlock()
	for _, e := range s.typeData.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

// TypeDataFor looks up the side-channel value of Go type T attached to the
// schema.
func TypeDataFor[T any](s *Schema) (T, bool) {
	var zero T
	keySchema, ok := s.registry.LookupGoType(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	v, ok := s.TypeData(keySchema.ID())
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// RangeTypeData calls fn for each attached entry in attachment order.
func (s *Schema) RangeTypeData(fn func(key SchemaID, value any) bool) {
	s.typeData.mu.RLock()
	entries := s.typeData.entries
	s.typeData.mu.RUnlock()
	for _, e := range entries {
		if !fn(e.key, e.value) {
			return
		}
	}
}
