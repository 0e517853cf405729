package schema

import (
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// FuncTable is the raw function table attached to a schema: per-type
// callbacks operating on untyped byte pointers. It is the only way the
// generic storage layer manipulates values of types it does not know about.
//
// Every callback runs under the same contract: the pointer is valid, aligned
// and points to (or, for Clone/Default destinations, will point to) a value
// of the schema's layout. A nil member means the capability is absent;
// operations that need it must fail fast instead of silently doing nothing.
type FuncTable struct {
	// Clone copies the value at src into dst. dst holds no live value.
	Clone func(dst, src unsafe.Pointer)
	// Drop releases any resources owned by the value at ptr.
	Drop func(ptr unsafe.Pointer)
	// Default constructs the type's default value into dst.
	Default func(dst unsafe.Pointer)
	// Hash returns a deterministic digest of the value at ptr.
	Hash func(ptr unsafe.Pointer) uint64
	// Eq reports whether the values at a and b are equal.
	Eq func(a, b unsafe.Pointer) bool
}

// Capability hooks a concrete Go type may implement to override the
// mechanically derived table entries.
type (
	// Hasher overrides the derived deterministic hash.
	Hasher interface{ Hash() uint64 }
	// Disposer is invoked when a boxed or stored value is dropped.
	Disposer interface{ Dispose() }
)

// TableFor derives the native portion of a function table for a concrete Go
// type: clone and default via assignment (or the type's Clone/DefaultValue
// methods when present), drop via Dispose, and hash/eq only when the type
// declares them. Structural hash/eq fallbacks are filled in at registration
// from the schema's kind, so padding bytes never influence either.
func TableFor[T any]() *FuncTable {
	var probe T
	t := &FuncTable{}

	if _, ok := any(probe).(interface{ Clone() T }); ok {
		t.Clone = func(dst, src unsafe.Pointer) {
			*(*T)(dst) = any(*(*T)(src)).(interface{ Clone() T }).Clone()
		}
	} else {
		t.Clone = func(dst, src unsafe.Pointer) {
			*(*T)(dst) = *(*T)(src)
		}
	}

	if _, ok := any(probe).(interface{ DefaultValue() T }); ok {
		t.Default = func(dst unsafe.Pointer) {
			var zero T
			*(*T)(dst) = any(zero).(interface{ DefaultValue() T }).DefaultValue()
		}
	} else {
		t.Default = func(dst unsafe.Pointer) {
			var zero T
			*(*T)(dst) = zero
		}
	}

	if _, ok := any(probe).(Disposer); ok {
		t.Drop = func(ptr unsafe.Pointer) {
			any(*(*T)(ptr)).(Disposer).Dispose()
		}
	}

	if _, ok := any(probe).(Hasher); ok {
		t.Hash = func(ptr unsafe.Pointer) uint64 {
			return any(*(*T)(ptr)).(Hasher).Hash()
		}
	}

	if _, ok := any(probe).(interface{ Equal(T) bool }); ok {
		t.Eq = func(a, b unsafe.Pointer) bool {
			return any(*(*T)(a)).(interface{ Equal(T) bool }).Equal(*(*T)(b))
		}
	}

	return t
}

// hashCombine folds a field digest into a running digest. The constant is
// the 64-bit golden ratio, the usual fix for associativity-blind xors.
func hashCombine(h, field uint64) uint64 {
	return h ^ (field + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2))
}

func rawBytes(p unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(p), size)
}

// podTable builds byte-wise callbacks for a layout with no interior
// structure: fixed-width scalars and opaque blobs. Opaque types accept the
// plain-data contract by declaring themselves opaque.
func podTable(layout Layout) *FuncTable {
	size := layout.Size
	return &FuncTable{
		Clone: func(dst, src unsafe.Pointer) {
			copy(rawBytes(dst, size), rawBytes(src, size))
		},
		Default: func(dst unsafe.Pointer) {
			clear(rawBytes(dst, size))
		},
		Hash: func(ptr unsafe.Pointer) uint64 {
			return xxhash.Sum64(rawBytes(ptr, size))
		},
		Eq: func(a, b unsafe.Pointer) bool {
			ab := rawBytes(a, size)
			bb := rawBytes(b, size)
			for i := range ab {
				if ab[i] != bb[i] {
					return false
				}
			}
			return true
		},
	}
}

// stringTable builds callbacks for the string kind. Hashing covers the
// string contents, not the header words.
func stringTable() *FuncTable {
	return &FuncTable{
		Clone: func(dst, src unsafe.Pointer) {
			*(*string)(dst) = *(*string)(src)
		},
		Default: func(dst unsafe.Pointer) {
			*(*string)(dst) = ""
		},
		Hash: func(ptr unsafe.Pointer) uint64 {
			return xxhash.Sum64String(*(*string)(ptr))
		},
		Eq: func(a, b unsafe.Pointer) bool {
			return *(*string)(a) == *(*string)(b)
		},
	}
}

// structTable composes a table field-wise from the member schemas' tables.
// A capability is present only when every field provides it; Drop is the
// exception and fires for whichever fields carry one.
func structTable(s *Schema) *FuncTable {
	fields := s.kind.Fields
	offsets := s.fieldOffsets
	t := &FuncTable{}

	cloneable, defaultable, hashable, equable := true, true, true, true
	dropCount := 0
	for _, f := range fields {
		ft := f.Schema.table
		if ft.Clone == nil {
			cloneable = false
		}
		if ft.Default == nil {
			defaultable = false
		}
		if ft.Hash == nil {
			hashable = false
		}
		if ft.Eq == nil {
			equable = false
		}
		if ft.Drop != nil {
			dropCount++
		}
	}

	if cloneable {
		t.Clone = func(dst, src unsafe.Pointer) {
			for i, f := range fields {
				f.Schema.table.Clone(unsafe.Add(dst, offsets[i]), unsafe.Add(src, offsets[i]))
			}
		}
	}
	if defaultable {
		t.Default = func(dst unsafe.Pointer) {
			clear(rawBytes(dst, s.layout.Size))
			for i, f := range fields {
				f.Schema.table.Default(unsafe.Add(dst, offsets[i]))
			}
		}
	}
	if hashable {
		t.Hash = func(ptr unsafe.Pointer) uint64 {
			h := uint64(len(fields))
			for i, f := range fields {
				h = hashCombine(h, f.Schema.table.Hash(unsafe.Add(ptr, offsets[i])))
			}
			return h
		}
	}
	if equable {
		t.Eq = func(a, b unsafe.Pointer) bool {
			for i, f := range fields {
				if !f.Schema.table.Eq(unsafe.Add(a, offsets[i]), unsafe.Add(b, offsets[i])) {
					return false
				}
			}
			return true
		}
	}
	if dropCount > 0 {
		t.Drop = func(ptr unsafe.Pointer) {
			for i, f := range fields {
				if d := f.Schema.table.Drop; d != nil {
					d(unsafe.Add(ptr, offsets[i]))
				}
			}
		}
	}
	return t
}

// enumTable composes a discriminant-directed table. The discriminant is read
// as a u32 prefix and routes every operation to the live variant's payload.
func enumTable(s *Schema) *FuncTable {
	variants := s.kind.Variants
	payloadOffset := s.payloadOffset
	byDisc := make(map[uint32]*Variant, len(variants))
	for i := range variants {
		byDisc[variants[i].Discriminant] = &variants[i]
	}

	payload := func(v *Variant) *FuncTable {
		if v == nil || v.Payload == nil {
			return nil
		}
		return v.Payload.table
	}

	cloneable, defaultable, hashable, equable, droppable := true, true, true, true, false
	for i := range variants {
		pt := payload(&variants[i])
		if pt == nil {
			continue
		}
		if pt.Clone == nil {
			cloneable = false
		}
		if pt.Default == nil {
			defaultable = false
		}
		if pt.Hash == nil {
			hashable = false
		}
		if pt.Eq == nil {
			equable = false
		}
		if pt.Drop != nil {
			droppable = true
		}
	}

	t := &FuncTable{}
	disc := func(p unsafe.Pointer) uint32 { return *(*uint32)(p) }

	if cloneable {
		t.Clone = func(dst, src unsafe.Pointer) {
			clear(rawBytes(dst, s.layout.Size))
			d := disc(src)
			*(*uint32)(dst) = d
			if pt := payload(byDisc[d]); pt != nil {
				pt.Clone(unsafe.Add(dst, payloadOffset), unsafe.Add(src, payloadOffset))
			}
		}
	}
	if defaultable && len(variants) > 0 {
		first := &variants[0]
		t.Default = func(dst unsafe.Pointer) {
			clear(rawBytes(dst, s.layout.Size))
			*(*uint32)(dst) = first.Discriminant
			if pt := payload(first); pt != nil {
				pt.Default(unsafe.Add(dst, payloadOffset))
			}
		}
	}
	if hashable {
		t.Hash = func(ptr unsafe.Pointer) uint64 {
			d := disc(ptr)
			h := hashCombine(0, uint64(d))
			if pt := payload(byDisc[d]); pt != nil {
				h = hashCombine(h, pt.Hash(unsafe.Add(ptr, payloadOffset)))
			}
			return h
		}
	}
	if equable {
		t.Eq = func(a, b unsafe.Pointer) bool {
			d := disc(a)
			if d != disc(b) {
				return false
			}
			if pt := payload(byDisc[d]); pt != nil {
				return pt.Eq(unsafe.Add(a, payloadOffset), unsafe.Add(b, payloadOffset))
			}
			return true
		}
	}
	if droppable {
		t.Drop = func(ptr unsafe.Pointer) {
			if pt := payload(byDisc[disc(ptr)]); pt != nil && pt.Drop != nil {
				pt.Drop(unsafe.Add(ptr, payloadOffset))
			}
		}
	}
	return t
}

// overlayTable lays the native (Go-derived) entries of over on top of the
// structurally synthesized base. Clone, Default and Drop prefer the native
// entry; Hash and Eq prefer an explicit native override and otherwise keep
// the structural version, which is what keeps padding out of digests.
func overlayTable(base, over *FuncTable) *FuncTable {
	out := *base
	if over == nil {
		return &out
	}
	if over.Clone != nil {
		out.Clone = over.Clone
	}
	if over.Default != nil {
		out.Default = over.Default
	}
	if over.Drop != nil {
		out.Drop = over.Drop
	}
	if over.Hash != nil {
		out.Hash = over.Hash
	}
	if over.Eq != nil {
		out.Eq = over.Eq
	}
	return &out
}

// plainData reports whether a Go type contains no pointer words, i.e. can
// live in untyped byte storage without hiding anything from the collector.
func plainData(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return plainData(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if !plainData(rt.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
