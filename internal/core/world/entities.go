package world

import (
	"github.com/lockstep-engine/lockstep/internal/core/storage"
)

// Entity is a handle into the world: a dense index plus the generation the
// index carried when the handle was issued. Freeing an index bumps its
// generation, so a handle issued later for the same index is strictly newer
// and stale handles can never alias it.
type Entity struct {
	Index      uint32
	Generation uint32
}

// Nil is the zero handle. No live entity ever has generation zero.
var Nil = Entity{}

// IsNil reports whether the handle is the zero handle.
func (e Entity) IsNil() bool { return e.Generation == 0 }

// Allocator hands out dense entity indexes, recycling freed ones LIFO.
type Allocator struct {
	generations []uint32
	alive       storage.Bitset
	free        []uint32
	count       int
}

// Create allocates an entity, reusing the most recently freed index first.
func (a *Allocator) Create() Entity {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.generations))
		a.generations = append(a.generations, 0)
	}
	a.generations[idx]++
	a.alive.EnsureBits(int(idx) + 1)
	a.alive.Set(int(idx))
	a.count++
	return Entity{Index: idx, Generation: a.generations[idx]}
}

// Destroy frees the entity's index. Returns false for a stale or nil handle.
func (a *Allocator) Destroy(e Entity) bool {
	if !a.Alive(e) {
		return false
	}
	// The bump happens here, not on reuse, so every stale handle fails the
	// generation check immediately.
	a.generations[e.Index]++
	a.alive.Clear(int(e.Index))
	a.free = append(a.free, e.Index)
	a.count--
	return true
}

// Alive reports whether the handle still names a live entity.
func (a *Allocator) Alive(e Entity) bool {
	if e.Generation == 0 || int(e.Index) >= len(a.generations) {
		return false
	}
	return a.alive.Test(int(e.Index)) && a.generations[e.Index] == e.Generation
}

// Count returns the number of live entities.
func (a *Allocator) Count() int { return a.count }

// Cap returns the number of indexes ever allocated.
func (a *Allocator) Cap() int { return len(a.generations) }

// Bits exposes the liveness bitset for query masks. Callers must not
// mutate it.
func (a *Allocator) Bits() *storage.Bitset { return &a.alive }

// Range visits live entities in ascending index order.
func (a *Allocator) Range(fn func(Entity) bool) {
	a.alive.Iter(func(i int) bool {
		return fn(Entity{Index: uint32(i), Generation: a.generations[i]})
	})
}

// Clone deep-copies the allocator state for snapshots.
func (a *Allocator) Clone() *Allocator {
	c := &Allocator{
		generations: append([]uint32(nil), a.generations...),
		free:        append([]uint32(nil), a.free...),
		count:       a.count,
	}
	c.alive = a.alive.Clone()
	return c
}

// Reset forgets every entity and every generation.
func (a *Allocator) Reset() {
	a.generations = a.generations[:0]
	a.free = a.free[:0]
	a.alive.Reset()
	a.count = 0
}
