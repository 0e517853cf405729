// Package value implements the type-erased pointer family: shared and
// exclusive references and an owning box, each pairing a raw pointer with a
// schema identity. Every cast back to a concrete type checks the carried
// schema id against the target's registered id; that check is the single
// safety invariant the whole layer depends on.
package value

import (
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
)

// Ref is a shared, read-only type-erased reference. Its lifetime is tied to
// whatever borrow produced it; it must not outlive the owning storage.
type Ref struct {
	ptr unsafe.Pointer
	sch *schema.Schema
}

// NewRef pairs a raw pointer with its schema. The caller asserts that ptr
// is valid, aligned and points to an initialized value of the schema's
// layout.
func NewRef(ptr unsafe.Pointer, s *schema.Schema) Ref {
	return Ref{ptr: ptr, sch: s}
}

// Schema returns the carried schema identity.
func (r Ref) Schema() *schema.Schema { return r.sch }

// UnsafePtr exposes the raw pointer for collaborators that do their own
// layout walking (serializers, script bindings).
func (r Ref) UnsafePtr() unsafe.Pointer { return r.ptr }

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool { return r.ptr == nil }

// Field narrows the reference to the named struct field.
func (r Ref) Field(name string) (Ref, error) {
	i, ok := r.sch.FieldIndex(name)
	if !ok {
		if r.sch.Kind().Tag != schema.KindStruct {
			return Ref{}, ErrNotStruct
		}
		return Ref{}, ErrNoSuchField
	}
	return r.FieldAt(i)
}

// FieldAt narrows the reference to the struct field at index i.
func (r Ref) FieldAt(i int) (Ref, error) {
	k := r.sch.Kind()
	if k.Tag != schema.KindStruct {
		return Ref{}, ErrNotStruct
	}
	if i < 0 || i >= len(k.Fields) {
		return Ref{}, ErrFieldOutOfRange
	}
	return Ref{
		ptr: unsafe.Add(r.ptr, r.sch.FieldOffset(i)),
		sch: k.Fields[i].Schema,
	}, nil
}

// Path resolves a dotted field path ("transform.position.x").
func (r Ref) Path(path string) (Ref, error) {
	if path == "" {
		return Ref{}, ErrEmptyPath
	}
	cur := r
	for _, part := range strings.Split(path, ".") {
		next, err := cur.Field(part)
		if err != nil {
			return Ref{}, err
		}
		cur = next
	}
	return cur, nil
}

// Discriminant reads an enum's discriminant prefix.
func (r Ref) Discriminant() (uint32, error) {
	if r.sch.Kind().Tag != schema.KindEnum {
		return 0, ErrNotEnum
	}
	return *(*uint32)(r.ptr), nil
}

// Payload narrows an enum reference to the live variant's payload.
func (r Ref) Payload() (Ref, error) {
	d, err := r.Discriminant()
	if err != nil {
		return Ref{}, err
	}
	v, ok := r.sch.VariantByDiscriminant(d)
	if !ok || v.Payload == nil {
		return Ref{}, ErrNotEnum
	}
	return Ref{ptr: unsafe.Add(r.ptr, r.sch.PayloadOffset()), sch: v.Payload}, nil
}

// Hash runs the schema's deterministic hash over the referenced value.
func (r Ref) Hash() (uint64, bool) {
	h := r.sch.Table().Hash
	if h == nil {
		return 0, false
	}
	return h(r.ptr), true
}

// RefMut is an exclusive, mutable type-erased reference.
type RefMut struct {
	ptr unsafe.Pointer
	sch *schema.Schema
}

// NewRefMut pairs a raw pointer with its schema under the same contract as
// NewRef, plus exclusivity.
func NewRefMut(ptr unsafe.Pointer, s *schema.Schema) RefMut {
	return RefMut{ptr: ptr, sch: s}
}

// Schema returns the carried schema identity.
func (r RefMut) Schema() *schema.Schema { return r.sch }

// UnsafePtr exposes the raw pointer.
func (r RefMut) UnsafePtr() unsafe.Pointer { return r.ptr }

// IsZero reports whether the reference is empty.
func (r RefMut) IsZero() bool { return r.ptr == nil }

// AsRef downgrades to a shared reference.
func (r RefMut) AsRef() Ref { return Ref{ptr: r.ptr, sch: r.sch} }

// Field narrows the reference to the named struct field.
func (r RefMut) Field(name string) (RefMut, error) {
	i, ok := r.sch.FieldIndex(name)
	if !ok {
		if r.sch.Kind().Tag != schema.KindStruct {
			return RefMut{}, ErrNotStruct
		}
		return RefMut{}, ErrNoSuchField
	}
	return r.FieldAt(i)
}

// FieldAt narrows the reference to the struct field at index i.
func (r RefMut) FieldAt(i int) (RefMut, error) {
	k := r.sch.Kind()
	if k.Tag != schema.KindStruct {
		return RefMut{}, ErrNotStruct
	}
	if i < 0 || i >= len(k.Fields) {
		return RefMut{}, ErrFieldOutOfRange
	}
	return RefMut{
		ptr: unsafe.Add(r.ptr, r.sch.FieldOffset(i)),
		sch: k.Fields[i].Schema,
	}, nil
}

// Path resolves a dotted field path to a mutable reference.
func (r RefMut) Path(path string) (RefMut, error) {
	if path == "" {
		return RefMut{}, ErrEmptyPath
	}
	cur := r
	for _, part := range strings.Split(path, ".") {
		next, err := cur.Field(part)
		if err != nil {
			return RefMut{}, err
		}
		cur = next
	}
	return cur, nil
}

// Set clones the value behind src over the referenced slot. Both sides must
// carry the same schema identity; the previous occupant is dropped first
// when the schema has a drop.
func (r RefMut) Set(src Ref) error {
	if !r.sch.Same(src.sch) {
		panic(&SchemaMismatchError{Want: r.sch, Got: src.sch})
	}
	t := r.sch.Table()
	if t.Clone == nil {
		return ErrMissingClone
	}
	if t.Drop != nil {
		t.Drop(r.ptr)
	}
	t.Clone(r.ptr, src.ptr)
	return nil
}

// targetSchema resolves T's registered schema in the registry that owns s,
// panicking on a mismatch the same way a wrong-id cast does.
func targetSchema[T any](s *schema.Schema) *schema.Schema {
	want, ok := s.Registry().LookupGoType(reflect.TypeFor[T]())
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrTypeUnbound, reflect.TypeFor[T]()))
	}
	if !want.Same(s) {
		panic(&SchemaMismatchError{Want: want, Got: s})
	}
	return want
}

// Cast reinterprets the reference as a concrete *T after proving that the
// carried schema id equals T's registered schema id. Mismatch panics; it is
// never a silent reinterpretation.
func Cast[T any](r Ref) *T {
	targetSchema[T](r.sch)
	return (*T)(r.ptr)
}

// TryCast is Cast returning ok=false instead of panicking.
func TryCast[T any](r Ref) (*T, bool) {
	want, ok := r.sch.Registry().LookupGoType(reflect.TypeFor[T]())
	if !ok || !want.Same(r.sch) {
		return nil, false
	}
	return (*T)(r.ptr), true
}

// CastMut reinterprets a mutable reference as *T under the same contract as
// Cast.
func CastMut[T any](r RefMut) *T {
	targetSchema[T](r.sch)
	return (*T)(r.ptr)
}

// TryCastMut is CastMut returning ok=false instead of panicking.
func TryCastMut[T any](r RefMut) (*T, bool) {
	want, ok := r.sch.Registry().LookupGoType(reflect.TypeFor[T]())
	if !ok || !want.Same(r.sch) {
		return nil, false
	}
	return (*T)(r.ptr), true
}
