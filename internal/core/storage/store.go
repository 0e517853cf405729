package storage

import (
	"reflect"
	"unsafe"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/value"
)

// ComponentStore is the untyped per-schema store: one slot per live entity
// index, an occupancy bitset, and a raw buffer whose element layout equals
// the schema's layout. A slot is logically present iff its bit is set; the
// bytes behind an unset bit are unspecified.
//
// Buffers and bitset grow to the highest index seen and never shrink on
// removal; space comes back only through Reset.
type ComponentStore struct {
	sch   *schema.Schema
	bits  Bitset
	buf   *RawBuffer
	maxID int // highest index ever occupied, bounds bitset scans
	count int
}

// NewComponentStore builds an empty store for the schema.
func NewComponentStore(s *schema.Schema) (*ComponentStore, error) {
	buf, err := NewRawBufferFor(s, 0)
	if err != nil {
		return nil, err
	}
	return &ComponentStore{sch: s, buf: buf, maxID: -1}, nil
}

// Schema returns the store's schema.
func (c *ComponentStore) Schema() *schema.Schema { return c.sch }

// Count returns the number of present slots.
func (c *ComponentStore) Count() int { return c.count }

// MaxID returns the highest index ever occupied, or -1.
func (c *ComponentStore) MaxID() int { return c.maxID }

// Bits exposes the occupancy bitset for building query masks. Callers must
// not mutate it.
func (c *ComponentStore) Bits() *Bitset { return &c.bits }

// Insert moves the boxed value into the slot at index, consuming the box.
// The box's schema must equal the store's schema; a mismatch is a hard
// fault. An existing occupant is dropped first.
func (c *ComponentStore) Insert(index int, b *value.Box) {
	if !b.Schema().Same(c.sch) {
		panic(&value.SchemaMismatchError{Want: c.sch, Got: b.Schema()})
	}
	c.ensure(index)
	slot := c.buf.Slot(index)
	if c.bits.Test(index) {
		if d := c.sch.Table().Drop; d != nil {
			d(slot)
		}
	} else {
		c.count++
	}
	src, _ := b.Forget()
	copySlot(c.sch, slot, src)
	c.bits.Set(index)
	if index > c.maxID {
		c.maxID = index
	}
}

// InsertDefault default-constructs a value directly in the slot and returns
// a mutable reference to it. Fails fast when the schema has no default.
func (c *ComponentStore) InsertDefault(index int) (value.RefMut, error) {
	def := c.sch.Table().Default
	if def == nil {
		return value.RefMut{}, ErrMissingDefault
	}
	c.ensure(index)
	slot := c.buf.Slot(index)
	if c.bits.Test(index) {
		if d := c.sch.Table().Drop; d != nil {
			d(slot)
		}
	} else {
		c.count++
	}
	def(slot)
	c.bits.Set(index)
	if index > c.maxID {
		c.maxID = index
	}
	return value.NewRefMut(slot, c.sch), nil
}

// Remove clears the bit at index and returns ownership of the bytes as a
// box, or nil when the slot was absent. The backing buffer keeps its
// capacity.
func (c *ComponentStore) Remove(index int) *value.Box {
	if index < 0 || !c.bits.Test(index) {
		return nil
	}
	slot := c.buf.Slot(index)
	ptr, alloc := c.allocOut()
	copySlot(c.sch, ptr, slot)
	zeroSlot(c.sch, slot)
	c.bits.Clear(index)
	c.count--
	return value.FromRaw(ptr, alloc, c.sch)
}

// Discard drops the value at index in place without returning it.
func (c *ComponentStore) Discard(index int) bool {
	if index < 0 || !c.bits.Test(index) {
		return false
	}
	slot := c.buf.Slot(index)
	if d := c.sch.Table().Drop; d != nil {
		d(slot)
	}
	zeroSlot(c.sch, slot)
	c.bits.Clear(index)
	c.count--
	return true
}

// Get returns a shared reference to the slot at index, gated by the bitset.
func (c *ComponentStore) Get(index int) (value.Ref, bool) {
	if index < 0 || !c.bits.Test(index) {
		return value.Ref{}, false
	}
	return value.NewRef(c.buf.Slot(index), c.sch), true
}

// GetMut returns an exclusive reference to the slot at index.
func (c *ComponentStore) GetMut(index int) (value.RefMut, bool) {
	if index < 0 || !c.bits.Test(index) {
		return value.RefMut{}, false
	}
	return value.NewRefMut(c.buf.Slot(index), c.sch), true
}

// IterMasked visits every index set in both the supplied mask and the
// occupancy bitset, in strictly ascending order. This is the primitive
// behind "entities having components A and B" queries: the caller
// intersects the other stores' bitsets into mask.
func (c *ComponentStore) IterMasked(mask *Bitset, fn func(index int, r value.Ref) bool) {
	c.bits.IterAnd(mask, func(i int) bool {
		return fn(i, value.NewRef(c.buf.Slot(i), c.sch))
	})
}

// IterMaskedMut is IterMasked with exclusive references.
func (c *ComponentStore) IterMaskedMut(mask *Bitset, fn func(index int, r value.RefMut) bool) {
	c.bits.IterAnd(mask, func(i int) bool {
		return fn(i, value.NewRefMut(c.buf.Slot(i), c.sch))
	})
}

// Reset drops every present value and clears the bitset, keeping the
// backing capacity. This is the only way the store gives space back.
func (c *ComponentStore) Reset() {
	d := c.sch.Table().Drop
	c.bits.Iter(func(i int) bool {
		slot := c.buf.Slot(i)
		if d != nil {
			d(slot)
		}
		zeroSlot(c.sch, slot)
		return true
	})
	c.bits.Reset()
	c.count = 0
	c.maxID = -1
}

// CloneInto deep-copies every present slot into dst, which must share the
// schema and be empty. Used by world snapshotting.
func (c *ComponentStore) CloneInto(dst *ComponentStore) error {
	if !dst.sch.Same(c.sch) {
		panic(&value.SchemaMismatchError{Want: c.sch, Got: dst.sch})
	}
	cl := c.sch.Table().Clone
	if cl == nil {
		return ErrMissingClone
	}
	if c.maxID >= 0 {
		dst.ensure(c.maxID)
	}
	c.bits.Iter(func(i int) bool {
		cl(dst.buf.Slot(i), c.buf.Slot(i))
		dst.bits.Set(i)
		return true
	})
	dst.count = c.count
	dst.maxID = c.maxID
	return nil
}

func (c *ComponentStore) ensure(index int) {
	if index < 0 {
		panic("storage: negative component index")
	}
	if index >= c.buf.Cap() {
		capacity := c.buf.Cap() * 2
		if capacity == 0 {
			capacity = 8
		}
		for capacity <= index {
			capacity *= 2
		}
		c.buf.Grow(capacity)
	}
	c.bits.EnsureBits(index + 1)
}

// allocOut allocates box backing matching the store's schema.
func (c *ComponentStore) allocOut() (unsafe.Pointer, any) {
	if rt := c.sch.GoType(); rt != nil {
		rv := reflect.New(rt)
		return rv.UnsafePointer(), rv
	}
	l := c.sch.Layout()
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
