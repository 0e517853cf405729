package value

import (
	"reflect"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
)

// Box owns one type-erased value: a pointer, a schema and the allocation
// backing them. Dropping a box invokes the schema's drop unless the
// capability is absent. The zero Box is invalid.
type Box struct {
	ptr unsafe.Pointer
	sch *schema.Schema
	// alloc retains the backing allocation for the collector. Go-typed
	// schemas are backed by a real typed allocation so interior pointers
	// stay visible; dynamic schemas are backed by raw bytes.
	alloc    any
	consumed bool
}

// allocRaw allocates an aligned, zeroed block for a layout and returns the
// aligned pointer plus the object keeping it alive.
func allocRaw(l schema.Layout) (unsafe.Pointer, any) {
	size := l.Size
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size+l.Align)
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if off := uintptr(base) & (l.Align - 1); off != 0 {
		base = unsafe.Add(base, l.Align-off)
	}
	return base, buf
}

// allocFor picks typed or raw backing for a schema.
func allocFor(s *schema.Schema) (unsafe.Pointer, any) {
	if rt := s.GoType(); rt != nil {
		rv := reflect.New(rt)
		return rv.UnsafePointer(), rv
	}
	return allocRaw(s.Layout())
}

// NewBox boxes a copy of v. T must have a registered schema in r.
func NewBox[T any](r *schema.Registry, v T) (*Box, error) {
	s, ok := schema.SchemaOf[T](r)
	if !ok {
		return nil, ErrTypeUnbound
	}
	ptr, alloc := allocFor(s)
	*(*T)(ptr) = v
	return &Box{ptr: ptr, sch: s, alloc: alloc}, nil
}

// MustBox is NewBox for paths where an unbound T is a bootstrap bug.
func MustBox[T any](r *schema.Registry, v T) *Box {
	b, err := NewBox(r, v)
	if err != nil {
		panic(err)
	}
	return b
}

// BoxDefault allocates a default-constructed value of the schema. Fails
// fast when the schema declared no default capability.
func BoxDefault(s *schema.Schema) (*Box, error) {
	def := s.Table().Default
	if def == nil {
		return nil, ErrMissingDefault
	}
	ptr, alloc := allocFor(s)
	def(ptr)
	return &Box{ptr: ptr, sch: s, alloc: alloc}, nil
}

// BoxClone deep-copies the value behind src into a new box. Fails fast when
// the schema declared no clone capability.
func BoxClone(src Ref) (*Box, error) {
	cl := src.Schema().Table().Clone
	if cl == nil {
		return nil, ErrMissingClone
	}
	ptr, alloc := allocFor(src.Schema())
	cl(ptr, src.UnsafePtr())
	return &Box{ptr: ptr, sch: src.Schema(), alloc: alloc}, nil
}

// FromRaw adopts an existing allocation as a box. The caller transfers
// ownership: ptr must be aligned for the schema's layout, point to an
// initialized value, and alloc must keep the memory alive. Used by the
// storage layer when moving values out of slots.
func FromRaw(ptr unsafe.Pointer, alloc any, s *schema.Schema) *Box {
	return &Box{ptr: ptr, sch: s, alloc: alloc}
}

// Schema returns the boxed value's schema.
func (b *Box) Schema() *schema.Schema { return b.sch }

// Ref borrows the boxed value immutably.
func (b *Box) Ref() Ref {
	b.check()
	return Ref{ptr: b.ptr, sch: b.sch}
}

// Mut borrows the boxed value mutably.
func (b *Box) Mut() RefMut {
	b.check()
	return RefMut{ptr: b.ptr, sch: b.sch}
}

// Clone deep-copies the box.
func (b *Box) Clone() (*Box, error) {
	b.check()
	return BoxClone(b.Ref())
}

// Drop releases the boxed value, invoking the schema's drop when present.
// Dropping twice is a no-op.
func (b *Box) Drop() {
	if b.consumed {
		return
	}
	b.consumed = true
	if d := b.sch.Table().Drop; d != nil {
		d(b.ptr)
	}
	b.ptr = nil
	b.alloc = nil
}

// Forget releases ownership of the bytes without dropping them and returns
// the raw pointer with its keep-alive. The storage layer uses this when a
// box's contents are moved into a slot.
func (b *Box) Forget() (unsafe.Pointer, any) {
	b.check()
	b.consumed = true
	ptr, alloc := b.ptr, b.alloc
	b.ptr = nil
	b.alloc = nil
	return ptr, alloc
}

func (b *Box) check() {
	if b.consumed {
		panic(ErrBoxConsumed)
	}
}
