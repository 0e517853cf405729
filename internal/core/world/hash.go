package world

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/storage"
	"github.com/lockstep-engine/lockstep/internal/core/value"
	"github.com/lockstep-engine/lockstep/pkg/concurrent"
	"github.com/lockstep-engine/lockstep/pkg/generic"
	"github.com/lockstep-engine/lockstep/pkg/sequence"
)

// CustomHash overrides a schema's contribution to the state hash. Attach it
// as type data after registering the CustomHash type itself, or pass it per
// call with HashOverride.
type CustomHash struct {
	Fn func(r value.Ref) uint64
}

// RegisterCustomHashKind registers the CustomHash carrier type so it can be
// attached to schemas as type data.
func RegisterCustomHashKind(r *schema.Registry) (*schema.Schema, error) {
	if s, ok := schema.SchemaOf[CustomHash](r); ok {
		return s, nil
	}
	return schema.RegisterFor[CustomHash](r, "lockstep.custom_hash",
		schema.OpaqueOf(unsafe.Sizeof(CustomHash{}), unsafe.Alignof(CustomHash{})))
}

// HashOption tunes one StateHash call.
type HashOption func(*hashConfig)

type hashConfig struct {
	parallel  int
	overrides map[schema.SchemaID]func(value.Ref) uint64
}

// HashParallel computes per-store digests on up to n goroutines. The merge
// stays sequential in ascending schema id order, so the result is identical
// at any parallelism.
func HashParallel(n int) HashOption {
	return func(c *hashConfig) { c.parallel = n }
}

// HashOverride substitutes fn for the schema's hash capability in this call.
func HashOverride(id schema.SchemaID, fn func(value.Ref) uint64) HashOption {
	return func(c *hashConfig) {
		if c.overrides == nil {
			c.overrides = make(map[schema.SchemaID]func(value.Ref) uint64)
		}
		c.overrides[id] = fn
	}
}

var digestPool = generic.NewResetPool(
	func() *xxhash.Digest { return xxhash.New() },
	func(d *xxhash.Digest) { d.Reset() },
)

// StateHash folds the world's entire simulation state into one digest:
// entity liveness, every component of every initialized store, every
// resource. Two peers that executed the same operation history get the same
// digest; comparing digests per step is how lockstep sessions detect
// divergence.
//
// Stores are folded in ascending schema id order and slots in ascending
// index order. Iteration order of Go maps never reaches the digest.
func (w *World) StateHash(opts ...HashOption) (uint64, error) {
	cfg := hashConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, cell := range w.stores {
		cell.borrow.acquireShared()
		defer cell.borrow.releaseShared()
	}
	for _, cell := range w.resources {
		cell.borrow.acquireShared()
		defer cell.borrow.releaseShared()
	}

	storeIDs := make([]schema.SchemaID, 0, len(w.stores))
	for id := range w.stores {
		storeIDs = append(storeIDs, id)
	}
	sort.Slice(storeIDs, func(i, j int) bool { return storeIDs[i] < storeIDs[j] })

	digests := make([]uint64, len(storeIDs))
	positions := make([]int, len(storeIDs))
	for i := range positions {
		positions[i] = i
	}
	err := concurrent.Limited(sequence.From(positions), cfg.parallel, func(pos int) error {
		id := storeIDs[pos]
		d, err := w.storeDigest(w.stores[id].store, cfg.overrides[id])
		if err != nil {
			return err
		}
		digests[pos] = d
		return nil
	})
	if err != nil {
		return 0, err
	}

	resIDs := make([]schema.SchemaID, 0, len(w.resources))
	for id, cell := range w.resources {
		if cell.box != nil {
			resIDs = append(resIDs, id)
		}
	}
	sort.Slice(resIDs, func(i, j int) bool { return resIDs[i] < resIDs[j] })

	digest := digestPool.Get()
	defer digestPool.Put(digest)

	writeU64(digest, w.entityDigest())
	for pos, id := range storeIDs {
		writeU64(digest, uint64(id))
		writeU64(digest, digests[pos])
	}
	for _, id := range resIDs {
		box := w.resources[id].box
		h, err := w.slotHasher(box.Schema(), cfg.overrides[id])
		if err != nil {
			return 0, err
		}
		writeU64(digest, uint64(id))
		writeU64(digest, h(box.Ref()))
	}
	return digest.Sum64(), nil
}

// storeDigest folds one store: count, then (index, value hash) pairs in
// ascending index order.
func (w *World) storeDigest(store *storage.ComponentStore, override func(value.Ref) uint64) (uint64, error) {
	h, err := w.slotHasher(store.Schema(), override)
	if err != nil {
		return 0, err
	}
	acc := uint64(store.Count())
	store.Bits().Iter(func(i int) bool {
		r, _ := store.Get(i)
		acc = hashCombine(acc, uint64(i))
		acc = hashCombine(acc, h(r))
		return true
	})
	return acc, nil
}

func (w *World) slotHasher(s *schema.Schema, override func(value.Ref) uint64) (func(value.Ref) uint64, error) {
	if override != nil {
		return override, nil
	}
	if custom, ok := schema.TypeDataFor[CustomHash](s); ok && custom.Fn != nil {
		return custom.Fn, nil
	}
	raw := s.Table().Hash
	if raw == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingHash, s.Name())
	}
	return func(r value.Ref) uint64 { return raw(r.UnsafePtr()) }, nil
}

// entityDigest folds liveness: count, then (index, generation) pairs.
func (w *World) entityDigest() uint64 {
	acc := uint64(w.entities.Count())
	w.entities.Range(func(e Entity) bool {
		acc = hashCombine(acc, uint64(e.Index))
		acc = hashCombine(acc, uint64(e.Generation))
		return true
	})
	return acc
}

func writeU64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

// hashCombine mirrors the schema table's field combiner so world digests
// compose the same way value digests do.
func hashCombine(h, elem uint64) uint64 {
	return h ^ (elem + 0x9e3779b97f4a7c15 + (h << 6) + (h >> 2))
}
