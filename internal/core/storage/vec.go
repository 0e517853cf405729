package storage

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/value"
)

// liveAllocs pins container backing objects whose only reference is a
// pointer inside untyped byte storage, where the collector cannot see it.
// Entries are added when a container allocates and removed by its drop, so
// container drop discipline is what bounds this table.
var liveAllocs sync.Map // unsafe.Pointer -> any

func pinAlloc(key unsafe.Pointer, alloc any) { liveAllocs.Store(key, alloc) }
func unpinAlloc(key unsafe.Pointer)          { liveAllocs.Delete(key) }

// vecHeader is the fixed-layout inline representation of a vec value. Only
// this header lives in the owning slot; elements live in a separate
// RawBuffer pinned through liveAllocs.
type vecHeader struct {
	buf *RawBuffer // nil until first growth
	len int
}

var vecHeaderLayout = schema.Layout{
	Size:  unsafe.Sizeof(vecHeader{}),
	Align: unsafe.Alignof(vecHeader{}),
}

// SchemaVec is a dynamically typed vector: ordered semantics layered over a
// RawBuffer, with the element schema's raw table invoked explicitly for
// clone/drop/default.
type SchemaVec struct {
	hdr  *vecHeader
	elem *schema.Schema
}

// NewSchemaVec builds a standalone empty vec. The header is heap-allocated
// and owned by the returned handle.
func NewSchemaVec(elem *schema.Schema) *SchemaVec {
	return &SchemaVec{hdr: &vecHeader{}, elem: elem}
}

// VecAt adopts the vec header stored at ptr. s must be the vec schema the
// slot was declared with; the element schema is taken from it.
func VecAt(ptr unsafe.Pointer, s *schema.Schema) (*SchemaVec, error) {
	if s.Kind().Tag != schema.KindVec {
		return nil, fmt.Errorf("storage: schema %q is not a vec", s.Name())
	}
	return &SchemaVec{hdr: (*vecHeader)(ptr), elem: s.Kind().Elem}, nil
}

// VecFromRef adopts the vec behind a type-erased reference.
func VecFromRef(r value.RefMut) (*SchemaVec, error) {
	return VecAt(r.UnsafePtr(), r.Schema())
}

// ElemSchema returns the element schema.
func (v *SchemaVec) ElemSchema() *schema.Schema { return v.elem }

// Len returns the element count.
func (v *SchemaVec) Len() int { return v.hdr.len }

// Get returns a shared reference to element i.
func (v *SchemaVec) Get(i int) (value.Ref, bool) {
	if i < 0 || i >= v.hdr.len {
		return value.Ref{}, false
	}
	return value.NewRef(v.hdr.buf.Slot(i), v.elem), true
}

// GetMut returns an exclusive reference to element i.
func (v *SchemaVec) GetMut(i int) (value.RefMut, bool) {
	if i < 0 || i >= v.hdr.len {
		return value.RefMut{}, false
	}
	return value.NewRefMut(v.hdr.buf.Slot(i), v.elem), true
}

// Push deep-copies the value behind src onto the end. src must carry the
// element schema; a mismatch is the usual hard fault.
func (v *SchemaVec) Push(src value.Ref) error {
	if !src.Schema().Same(v.elem) {
		panic(&value.SchemaMismatchError{Want: v.elem, Got: src.Schema()})
	}
	cl := v.elem.Table().Clone
	if cl == nil {
		return ErrMissingClone
	}
	v.ensure(v.hdr.len + 1)
	cl(v.hdr.buf.Slot(v.hdr.len), src.UnsafePtr())
	v.hdr.len++
	return nil
}

// PushDefault appends a default-constructed element and returns a mutable
// reference to it.
func (v *SchemaVec) PushDefault() (value.RefMut, error) {
	def := v.elem.Table().Default
	if def == nil {
		return value.RefMut{}, ErrMissingDefault
	}
	v.ensure(v.hdr.len + 1)
	slot := v.hdr.buf.Slot(v.hdr.len)
	def(slot)
	v.hdr.len++
	return value.NewRefMut(slot, v.elem), nil
}

// Remove drops element i and shifts the tail down by one slot.
func (v *SchemaVec) Remove(i int) bool {
	if i < 0 || i >= v.hdr.len {
		return false
	}
	if d := v.elem.Table().Drop; d != nil {
		d(v.hdr.buf.Slot(i))
	}
	size := v.elem.Layout().Size
	for j := i; j < v.hdr.len-1; j++ {
		copySlot(v.elem, v.hdr.buf.Slot(j), v.hdr.buf.Slot(j+1))
	}
	zeroLast := v.hdr.buf.Slot(v.hdr.len - 1)
	clear(unsafe.Slice((*byte)(zeroLast), size))
	v.hdr.len--
	return true
}

// Truncate drops every element at index n and beyond.
func (v *SchemaVec) Truncate(n int) {
	if n < 0 || n >= v.hdr.len {
		return
	}
	d := v.elem.Table().Drop
	for i := n; i < v.hdr.len; i++ {
		slot := v.hdr.buf.Slot(i)
		if d != nil {
			d(slot)
		}
		clear(unsafe.Slice((*byte)(slot), v.elem.Layout().Size))
	}
	v.hdr.len = n
}

// Clear drops every element.
func (v *SchemaVec) Clear() { v.Truncate(0) }

func (v *SchemaVec) ensure(n int) {
	if v.hdr.buf == nil {
		capacity := 4
		for capacity < n {
			capacity *= 2
		}
		buf, err := NewRawBufferFor(v.elem, capacity)
		if err != nil {
			panic(err)
		}
		v.hdr.buf = buf
		pinAlloc(unsafe.Pointer(buf), buf)
		return
	}
	if n <= v.hdr.buf.Cap() {
		return
	}
	capacity := v.hdr.buf.Cap() * 2
	for capacity < n {
		capacity *= 2
	}
	v.hdr.buf.Grow(capacity)
}

// dropVec is the vec schema's drop: drop elements, then unpin the backing.
func dropVec(hdr *vecHeader, elem *schema.Schema) {
	if hdr.buf == nil {
		return
	}
	if d := elem.Table().Drop; d != nil {
		for i := 0; i < hdr.len; i++ {
			d(hdr.buf.Slot(i))
		}
	}
	unpinAlloc(unsafe.Pointer(hdr.buf))
	hdr.buf = nil
	hdr.len = 0
}

// cloneVec deep-copies src's elements into dst, which must hold no live
// value.
func cloneVec(dst, src *vecHeader, elem *schema.Schema) {
	dst.buf = nil
	dst.len = 0
	if src.len == 0 {
		return
	}
	cl := elem.Table().Clone
	if cl == nil {
		panic(fmt.Sprintf("storage: vec clone: element schema %q has no clone capability", elem.Name()))
	}
	v := &SchemaVec{hdr: dst, elem: elem}
	v.ensure(src.len)
	for i := 0; i < src.len; i++ {
		cl(dst.buf.Slot(i), src.buf.Slot(i))
	}
	dst.len = src.len
}

// vecOps is the container hook the schema registry calls when a vec kind is
// registered. Closures capture only the element schema pointer and consult
// its table at call time, which is what lets a vec reference a schema that
// is still mid-registration.
func vecOps(elem *schema.Schema) schema.ContainerOps {
	return schema.ContainerOps{
		Layout: vecHeaderLayout,
		Table: &schema.FuncTable{
			Clone: func(dst, src unsafe.Pointer) {
				cloneVec((*vecHeader)(dst), (*vecHeader)(src), elem)
			},
			Drop: func(ptr unsafe.Pointer) {
				dropVec((*vecHeader)(ptr), elem)
			},
			Default: func(dst unsafe.Pointer) {
				*(*vecHeader)(dst) = vecHeader{}
			},
			Hash: func(ptr unsafe.Pointer) uint64 {
				hdr := (*vecHeader)(ptr)
				h := elem.Table().Hash
				if h == nil {
					panic(fmt.Sprintf("storage: vec hash: element schema %q has no hash capability", elem.Name()))
				}
				acc := uint64(hdr.len)
				for i := 0; i < hdr.len; i++ {
					acc = hashCombine(acc, h(hdr.buf.Slot(i)))
				}
				return acc
			},
			Eq: func(a, b unsafe.Pointer) bool {
				ha, hb := (*vecHeader)(a), (*vecHeader)(b)
				if ha.len != hb.len {
					return false
				}
				eq := elem.Table().Eq
				if eq == nil {
					panic(fmt.Sprintf("storage: vec eq: element schema %q has no equality capability", elem.Name()))
				}
				for i := 0; i < ha.len; i++ {
					if !eq(ha.buf.Slot(i), hb.buf.Slot(i)) {
						return false
					}
				}
				return true
			},
		},
	}
}

// hashCombine mirrors the schema package's field combiner so container
// digests compose the same way struct digests do.
func hashCombine(h, elem uint64) uint64 {
	return h ^ (elem + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2))
}
