package storage

import (
	"reflect"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
)

// RawBuffer is a resizable allocation measured in element slots, keyed by a
// declared layout rather than a compile-time element type. Growth
// reallocates and copies raw bytes; per-element clone/drop is always the
// caller's job, never the allocator's.
//
// Schemas that round-trip to a Go type get a real typed backing array so
// interior Go pointers stay visible to the collector; everything else lives
// in plain bytes.
type RawBuffer struct {
	layout schema.Layout
	typed  reflect.Type // nil for byte backing

	ptr   unsafe.Pointer
	alloc any
	cap   int
}

// NewRawBuffer allocates byte-backed slots for an arbitrary layout.
func NewRawBuffer(l schema.Layout, capacity int) *RawBuffer {
	b := &RawBuffer{layout: l}
	b.alloc, b.ptr = allocSlots(l, nil, capacity)
	b.cap = capacity
	return b
}

// NewRawBufferFor allocates slots for a schema, choosing typed backing when
// the schema has a Go type. A pointer-bearing schema without one cannot be
// stored safely.
func NewRawBufferFor(s *schema.Schema, capacity int) (*RawBuffer, error) {
	rt := s.GoType()
	if rt == nil && s.HasPointers() {
		return nil, ErrUnrepresentable
	}
	b := &RawBuffer{layout: s.Layout(), typed: rt}
	b.alloc, b.ptr = allocSlots(s.Layout(), rt, capacity)
	b.cap = capacity
	return b, nil
}

func allocSlots(l schema.Layout, rt reflect.Type, capacity int) (alloc any, ptr unsafe.Pointer) {
	if rt != nil {
		rv := reflect.MakeSlice(reflect.SliceOf(rt), capacity, capacity)
		return rv, rv.UnsafePointer()
	}
	n := l.Size * uintptr(capacity)
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n+l.Align)
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if off := uintptr(base) & (l.Align - 1); off != 0 {
		base = unsafe.Add(base, l.Align-off)
	}
	return buf, base
}

// Layout returns the slot layout.
func (b *RawBuffer) Layout() schema.Layout { return b.layout }

// Cap returns the capacity in slots.
func (b *RawBuffer) Cap() int { return b.cap }

// Slot returns the address of slot i. The caller is responsible for i being
// in range and, on reads, for the slot holding an initialized value.
func (b *RawBuffer) Slot(i int) unsafe.Pointer {
	return unsafe.Add(b.ptr, b.layout.Size*uintptr(i))
}

// Grow reallocates to at least newCap slots, copying existing bytes. It
// never shrinks.
func (b *RawBuffer) Grow(newCap int) {
	if newCap <= b.cap {
		return
	}
	if b.typed != nil {
		rv := reflect.MakeSlice(reflect.SliceOf(b.typed), newCap, newCap)
		reflect.Copy(rv, b.alloc.(reflect.Value))
		b.alloc, b.ptr = rv, rv.UnsafePointer()
		b.cap = newCap
		return
	}
	alloc, ptr := allocSlots(b.layout, nil, newCap)
	copy(unsafe.Slice((*byte)(ptr), b.layout.Size*uintptr(newCap)),
		unsafe.Slice((*byte)(b.ptr), b.layout.Size*uintptr(b.cap)))
	b.alloc, b.ptr = alloc, ptr
	b.cap = newCap
}

// copySlot moves one value's bytes between slots of the same schema.
// Pointer-bearing schemas go through a typed copy so the collector's write
// barriers see the pointer words; plain data is a straight byte copy.
func copySlot(s *schema.Schema, dst, src unsafe.Pointer) {
	if rt := s.GoType(); rt != nil && s.HasPointers() {
		reflect.NewAt(rt, dst).Elem().Set(reflect.NewAt(rt, src).Elem())
		return
	}
	size := s.Layout().Size
	copy(unsafe.Slice((*byte)(dst), size), unsafe.Slice((*byte)(src), size))
}

// zeroSlot clears one slot's bytes.
func zeroSlot(s *schema.Schema, ptr unsafe.Pointer) {
	if rt := s.GoType(); rt != nil && s.HasPointers() {
		reflect.NewAt(rt, ptr).Elem().SetZero()
		return
	}
	clear(unsafe.Slice((*byte)(ptr), s.Layout().Size))
}
