package schema

import (
	"reflect"
)

// SchemaID is the process-wide identity of a registered schema. IDs are
// assigned monotonically at registration, never reused and never freed.
// Two schemas are the same type iff their ids are equal; structural
// equality is never consulted on the fast path.
type SchemaID uint32

// Schema is the registered, immutable description of one type: its shape,
// computed memory layout and raw function table. Values are created by
// Registry.Register and live for the registry's lifetime.
type Schema struct {
	id   SchemaID
	name string
	kind Kind

	layout       Layout
	fieldOffsets []uintptr
	// payloadOffset is the byte offset of an enum's variant payload,
	// after the discriminant and its padding.
	payloadOffset uintptr

	table *FuncTable

	// goType is the optional foreign-type identity token: the static Go
	// type this schema round-trips to, nil for dynamically composed
	// schemas.
	goType reflect.Type

	registry *Registry
	typeData typeDataMap
}

// ID returns the registry-assigned identity.
func (s *Schema) ID() SchemaID { return s.id }

// Name returns the registration name, possibly empty.
func (s *Schema) Name() string { return s.name }

// Kind returns the shape description.
func (s *Schema) Kind() Kind { return s.kind }

// Layout returns the computed byte size and alignment.
func (s *Schema) Layout() Layout { return s.layout }

// Table returns the raw function table.
func (s *Schema) Table() *FuncTable { return s.table }

// GoType returns the foreign-type token, or nil.
func (s *Schema) GoType() reflect.Type { return s.goType }

// Registry returns the registry that owns this schema.
func (s *Schema) Registry() *Registry { return s.registry }

// Same reports identity equality. This is the only notion of schema
// equality the engine uses.
func (s *Schema) Same(other *Schema) bool {
	return other != nil && s.id == other.id
}

// FieldCount returns the number of struct fields, or zero for non-structs.
func (s *Schema) FieldCount() int { return len(s.kind.Fields) }

// FieldOffset returns the byte offset of struct field i.
func (s *Schema) FieldOffset(i int) uintptr { return s.fieldOffsets[i] }

// FieldIndex resolves a struct field by name.
func (s *Schema) FieldIndex(name string) (int, bool) {
	for i, f := range s.kind.Fields {
		if f.Name == name && name != "" {
			return i, true
		}
	}
	return 0, false
}

// PayloadOffset returns the byte offset of an enum's variant payload.
func (s *Schema) PayloadOffset() uintptr { return s.payloadOffset }

// VariantByDiscriminant resolves an enum variant.
func (s *Schema) VariantByDiscriminant(d uint32) (*Variant, bool) {
	for i := range s.kind.Variants {
		if s.kind.Variants[i].Discriminant == d {
			return &s.kind.Variants[i], true
		}
	}
	return nil, false
}

// HasPointers reports whether values of this schema may contain Go pointer
// words (strings, foreign Go types with pointers). Such schemas need
// Go-typed backing storage so the collector can see them.
func (s *Schema) HasPointers() bool {
	switch s.kind.Tag {
	case KindString:
		return true
	case KindStruct:
		for _, f := range s.kind.Fields {
			if f.Schema.HasPointers() {
				return true
			}
		}
		return false
	case KindEnum:
		for _, v := range s.kind.Variants {
			if v.Payload != nil && v.Payload.HasPointers() {
				return true
			}
		}
		return false
	case KindVec, KindMap:
		// Containers manage their own allocations and pin them for the
		// collector; the inline header is pointer-free from Go's view.
		return false
	default:
		if s.goType != nil {
			return !plainData(s.goType)
		}
		return false
	}
}
