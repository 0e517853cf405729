package storage

import (
	"fmt"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/value"
)

// mapHeader is the fixed-layout inline representation of a map value. The
// implementation object lives on the Go heap, pinned through liveAllocs
// like a vec's backing buffer.
type mapHeader struct {
	impl *mapImpl
}

var mapHeaderLayout = schema.Layout{
	Size:  unsafe.Sizeof(mapHeader{}),
	Align: unsafe.Alignof(mapHeader{}),
}

// mapImpl stores entries in parallel key/value buffers with an occupancy
// bitset and a hash index. Keys are compared through the key schema's
// eq entry, hashed through its hash entry; there is no reliance on Go's
// native map hashing because key types are not known statically.
type mapImpl struct {
	key *schema.Schema
	val *schema.Schema

	keys     *RawBuffer
	vals     *RawBuffer
	occupied Bitset
	index    map[uint64][]int32
	count    int
	next     int32
	free     []int32
}

func newMapImpl(key, val *schema.Schema) *mapImpl {
	return &mapImpl{
		key:   key,
		val:   val,
		index: make(map[uint64][]int32),
	}
}

// SchemaMap is the handle over a map header slot.
type SchemaMap struct {
	hdr *mapHeader
	key *schema.Schema
	val *schema.Schema
}

// NewSchemaMap builds a standalone empty map.
func NewSchemaMap(key, val *schema.Schema) *SchemaMap {
	return &SchemaMap{hdr: &mapHeader{}, key: key, val: val}
}

// MapAt adopts the map header stored at ptr. s must be the map schema the
// slot was declared with.
func MapAt(ptr unsafe.Pointer, s *schema.Schema) (*SchemaMap, error) {
	if s.Kind().Tag != schema.KindMap {
		return nil, fmt.Errorf("storage: schema %q is not a map", s.Name())
	}
	return &SchemaMap{hdr: (*mapHeader)(ptr), key: s.Kind().Key, val: s.Kind().Value}, nil
}

// MapFromRef adopts the map behind a type-erased reference.
func MapFromRef(r value.RefMut) (*SchemaMap, error) {
	return MapAt(r.UnsafePtr(), r.Schema())
}

// Len returns the entry count.
func (m *SchemaMap) Len() int {
	if m.hdr.impl == nil {
		return 0
	}
	return m.hdr.impl.count
}

func (m *SchemaMap) impl() *mapImpl {
	if m.hdr.impl == nil {
		impl := newMapImpl(m.key, m.val)
		m.hdr.impl = impl
		pinAlloc(unsafe.Pointer(impl), impl)
	}
	return m.hdr.impl
}

func (m *SchemaMap) hashEq() (func(unsafe.Pointer) uint64, func(a, b unsafe.Pointer) bool, error) {
	h := m.key.Table().Hash
	if h == nil {
		return nil, nil, ErrMissingHash
	}
	eq := m.key.Table().Eq
	if eq == nil {
		return nil, nil, ErrMissingEq
	}
	return h, eq, nil
}

// Insert deep-copies (k, v) into the map, replacing the value of an equal
// key. Both references must carry the declared key/value schemas.
func (m *SchemaMap) Insert(k value.Ref, v value.Ref) error {
	if !k.Schema().Same(m.key) {
		panic(&value.SchemaMismatchError{Want: m.key, Got: k.Schema()})
	}
	if !v.Schema().Same(m.val) {
		panic(&value.SchemaMismatchError{Want: m.val, Got: v.Schema()})
	}
	h, eq, err := m.hashEq()
	if err != nil {
		return err
	}
	kc := m.key.Table().Clone
	vc := m.val.Table().Clone
	if kc == nil || vc == nil {
		return ErrMissingClone
	}

	impl := m.impl()
	digest := h(k.UnsafePtr())
	for _, slot := range impl.index[digest] {
		if eq(impl.keys.Slot(int(slot)), k.UnsafePtr()) {
			// Same key: drop and replace the value only.
			if d := m.val.Table().Drop; d != nil {
				d(impl.vals.Slot(int(slot)))
			}
			vc(impl.vals.Slot(int(slot)), v.UnsafePtr())
			return nil
		}
	}

	slot := impl.takeSlot()
	kc(impl.keys.Slot(int(slot)), k.UnsafePtr())
	vc(impl.vals.Slot(int(slot)), v.UnsafePtr())
	impl.occupied.Set(int(slot))
	impl.index[digest] = append(impl.index[digest], slot)
	impl.count++
	return nil
}

// Get returns a shared reference to the value stored under k.
func (m *SchemaMap) Get(k value.Ref) (value.Ref, bool) {
	if !k.Schema().Same(m.key) {
		panic(&value.SchemaMismatchError{Want: m.key, Got: k.Schema()})
	}
	impl := m.hdr.impl
	if impl == nil {
		return value.Ref{}, false
	}
	h, eq, err := m.hashEq()
	if err != nil {
		return value.Ref{}, false
	}
	for _, slot := range impl.index[h(k.UnsafePtr())] {
		if eq(impl.keys.Slot(int(slot)), k.UnsafePtr()) {
			return value.NewRef(impl.vals.Slot(int(slot)), m.val), true
		}
	}
	return value.Ref{}, false
}

// GetMut returns an exclusive reference to the value stored under k.
func (m *SchemaMap) GetMut(k value.Ref) (value.RefMut, bool) {
	r, ok := m.Get(k)
	if !ok {
		return value.RefMut{}, false
	}
	return value.NewRefMut(r.UnsafePtr(), r.Schema()), true
}

// Remove drops the entry stored under k.
func (m *SchemaMap) Remove(k value.Ref) bool {
	if !k.Schema().Same(m.key) {
		panic(&value.SchemaMismatchError{Want: m.key, Got: k.Schema()})
	}
	impl := m.hdr.impl
	if impl == nil {
		return false
	}
	h, eq, err := m.hashEq()
	if err != nil {
		return false
	}
	digest := h(k.UnsafePtr())
	bucket := impl.index[digest]
	for bi, slot := range bucket {
		if !eq(impl.keys.Slot(int(slot)), k.UnsafePtr()) {
			continue
		}
		if d := m.key.Table().Drop; d != nil {
			d(impl.keys.Slot(int(slot)))
		}
		if d := m.val.Table().Drop; d != nil {
			d(impl.vals.Slot(int(slot)))
		}
		zeroSlot(m.key, impl.keys.Slot(int(slot)))
		zeroSlot(m.val, impl.vals.Slot(int(slot)))
		impl.occupied.Clear(int(slot))
		impl.free = append(impl.free, slot)
		if len(bucket) == 1 {
			delete(impl.index, digest)
		} else {
			impl.index[digest] = append(bucket[:bi], bucket[bi+1:]...)
		}
		impl.count--
		return true
	}
	return false
}

// Range visits entries in ascending slot order, which is deterministic for
// identical operation histories. fn returning false stops the walk.
func (m *SchemaMap) Range(fn func(k, v value.Ref) bool) {
	impl := m.hdr.impl
	if impl == nil {
		return
	}
	impl.occupied.Iter(func(i int) bool {
		return fn(
			value.NewRef(impl.keys.Slot(i), m.key),
			value.NewRef(impl.vals.Slot(i), m.val),
		)
	})
}

// Clear drops every entry, keeping capacity.
func (m *SchemaMap) Clear() {
	impl := m.hdr.impl
	if impl == nil {
		return
	}
	kd, vd := m.key.Table().Drop, m.val.Table().Drop
	impl.occupied.Iter(func(i int) bool {
		if kd != nil {
			kd(impl.keys.Slot(i))
		}
		if vd != nil {
			vd(impl.vals.Slot(i))
		}
		zeroSlot(m.key, impl.keys.Slot(i))
		zeroSlot(m.val, impl.vals.Slot(i))
		return true
	})
	impl.occupied.Reset()
	impl.index = make(map[uint64][]int32)
	impl.count = 0
	impl.next = 0
	impl.free = impl.free[:0]
}

func (impl *mapImpl) takeSlot() int32 {
	if n := len(impl.free); n > 0 {
		slot := impl.free[n-1]
		impl.free = impl.free[:n-1]
		return slot
	}
	slot := impl.next
	impl.next++
	impl.ensure(int(impl.next))
	return slot
}

func (impl *mapImpl) ensure(n int) {
	if impl.keys == nil {
		capacity := 8
		for capacity < n {
			capacity *= 2
		}
		keys, err := NewRawBufferFor(impl.key, capacity)
		if err != nil {
			panic(err)
		}
		vals, err := NewRawBufferFor(impl.val, capacity)
		if err != nil {
			panic(err)
		}
		impl.keys, impl.vals = keys, vals
		return
	}
	if n <= impl.keys.Cap() {
		return
	}
	capacity := impl.keys.Cap() * 2
	for capacity < n {
		capacity *= 2
	}
	impl.keys.Grow(capacity)
	impl.vals.Grow(capacity)
}

// dropMap is the map schema's drop.
func dropMap(hdr *mapHeader, key, val *schema.Schema) {
	impl := hdr.impl
	if impl == nil {
		return
	}
	m := &SchemaMap{hdr: hdr, key: key, val: val}
	m.Clear()
	unpinAlloc(unsafe.Pointer(impl))
	hdr.impl = nil
}

// mapOps is the container hook for map kinds, mirroring vecOps.
func mapOps(key, val *schema.Schema) schema.ContainerOps {
	return schema.ContainerOps{
		Layout: mapHeaderLayout,
		Table: &schema.FuncTable{
			Clone: func(dst, src unsafe.Pointer) {
				dh, sh := (*mapHeader)(dst), (*mapHeader)(src)
				dh.impl = nil
				if sh.impl == nil || sh.impl.count == 0 {
					return
				}
				dm := &SchemaMap{hdr: dh, key: key, val: val}
				sm := &SchemaMap{hdr: sh, key: key, val: val}
				sm.Range(func(k, v value.Ref) bool {
					if err := dm.Insert(k, v); err != nil {
						panic(fmt.Sprintf("storage: map clone: %v", err))
					}
					return true
				})
			},
			Drop: func(ptr unsafe.Pointer) {
				dropMap((*mapHeader)(ptr), key, val)
			},
			Default: func(dst unsafe.Pointer) {
				*(*mapHeader)(dst) = mapHeader{}
			},
			Hash: func(ptr unsafe.Pointer) uint64 {
				hdr := (*mapHeader)(ptr)
				kh, vh := key.Table().Hash, val.Table().Hash
				if kh == nil || vh == nil {
					panic(fmt.Sprintf("storage: map hash: schema %q/%q lacks hash capability", key.Name(), val.Name()))
				}
				m := &SchemaMap{hdr: hdr, key: key, val: val}
				acc := uint64(m.Len())
				m.Range(func(k, v value.Ref) bool {
					acc = hashCombine(acc, kh(k.UnsafePtr()))
					acc = hashCombine(acc, vh(v.UnsafePtr()))
					return true
				})
				return acc
			},
			Eq: func(a, b unsafe.Pointer) bool {
				am := &SchemaMap{hdr: (*mapHeader)(a), key: key, val: val}
				bm := &SchemaMap{hdr: (*mapHeader)(b), key: key, val: val}
				if am.Len() != bm.Len() {
					return false
				}
				veq := val.Table().Eq
				if veq == nil {
					panic(fmt.Sprintf("storage: map eq: value schema %q has no equality capability", val.Name()))
				}
				equal := true
				am.Range(func(k, v value.Ref) bool {
					other, ok := bm.Get(k)
					if !ok || !veq(v.UnsafePtr(), other.UnsafePtr()) {
						equal = false
						return false
					}
					return true
				})
				return equal
			},
		},
	}
}

func init() {
	schema.InstallContainerHooks(vecOps, mapOps)
}
